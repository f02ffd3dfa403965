package compress

import (
	"sync"

	"github.com/pierrec/lz4/v4"
)

// lz4Codec wraps pierrec/lz4/v4's block-level API, favoring CPU cost
// over compression ratio relative to zstdCodec. Its scratch compressor
// state is not safe for concurrent calls, so access is serialized.
type lz4Codec struct {
	mu         sync.Mutex
	compressor lz4.Compressor
}

func newLZ4Codec() *lz4Codec {
	return &lz4Codec{}
}

func (c *lz4Codec) Compress(dst, src []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bound := lz4.CompressBlockBound(len(src))
	if cap(dst) < bound {
		dst = make([]byte, bound)
	} else {
		dst = dst[:bound]
	}
	n, err := c.compressor.CompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 && len(src) > 0 {
		// Incompressible input: lz4 reports 0 rather than emitting a
		// larger-than-source block. Store it uncompressed isn't
		// supported at this layer, so the caller falls back to zstd
		// or sends src verbatim; surface it as an error the caller can
		// branch on rather than returning a nonsensical empty payload.
		return nil, errIncompressible
	}
	return dst[:n], nil
}

// Decompress requires dst to already be sized to the original
// (uncompressed) payload length: lz4's block format carries no
// length prefix, so the caller must track and supply it, typically
// from a frame header recorded alongside the compressed bytes.
func (c *lz4Codec) Decompress(dst, src []byte) ([]byte, error) {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

func (c *lz4Codec) CompressBound(srcLen int) int {
	return lz4.CompressBlockBound(srcLen)
}

func (c *lz4Codec) Algorithm() Algorithm { return LZ4 }
