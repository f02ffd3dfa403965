package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec wraps a pair of reusable klauspost/compress/zstd encoder
// and decoder. Both types are documented as safe for concurrent use
// once constructed, so a single pair is shared across all callers.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder

	// encMu serializes EncodeAll calls: the concurrent-safe claim
	// covers independent Write/Read streams, not shared scratch state
	// across goroutines racing the same *Encoder via EncodeAll.
	encMu sync.Mutex
}

func newZstdCodec() *zstdCodec {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: failed to construct zstd encoder: " + err.Error())
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic("compress: failed to construct zstd decoder: " + err.Error())
	}
	return &zstdCodec{enc: enc, dec: dec}
}

func (c *zstdCodec) Compress(dst, src []byte) ([]byte, error) {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.enc.EncodeAll(src, dst[:0]), nil
}

func (c *zstdCodec) Decompress(dst, src []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, dst[:0])
}

func (c *zstdCodec) CompressBound(srcLen int) int {
	// zstd's worst case is a handful of frame/header bytes over the
	// input size; this mirrors the bound klauspost itself documents for
	// incompressible input.
	return srcLen + (srcLen / 256) + 16
}

func (c *zstdCodec) Algorithm() Algorithm { return Zstd }
