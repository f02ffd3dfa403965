package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// MaxFrameBytes bounds a single frame's payload, independent of the
// 4-byte length prefix. A peer advertising a larger length is treated
// as a protocol violation, not a resource request to honor.
const MaxFrameBytes = 16 * 1024 * 1024

// ErrFrameTooLarge is returned by the accumulator when a peer declares
// a frame length above MaxFrameBytes.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

const lengthPrefixBytes = 4

// FrameMessage prefixes an encoded message with its 4-byte big-endian
// length, ready to hand to a transport's Send.
func FrameMessage(m Message) ([]byte, error) {
	payload, err := Encode(m)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, lengthPrefixBytes+len(payload))
	binary.BigEndian.PutUint32(out[:lengthPrefixBytes], uint32(len(payload)))
	copy(out[lengthPrefixBytes:], payload)
	return out, nil
}

// Accumulator reassembles length-prefixed frames out of an arbitrarily
// chunked byte stream. Feed arrives in whatever sizes the transport
// delivers them; a complete frame is only ever handed back whole, so a
// caller never observes a torn frame even under partial reads.
type Accumulator struct {
	buf     []byte
	wantLen int // -1 while the length prefix itself is incomplete
}

// NewAccumulator creates an empty frame accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{wantLen: -1}
}

// Feed appends newly received bytes and returns every complete frame's
// payload (length-prefix stripped, still encoded) that became
// available as a result. The returned slices are freshly allocated and
// safe to retain.
func (a *Accumulator) Feed(data []byte) ([][]byte, error) {
	a.buf = append(a.buf, data...)

	var frames [][]byte
	for {
		if a.wantLen < 0 {
			if len(a.buf) < lengthPrefixBytes {
				break
			}
			n := binary.BigEndian.Uint32(a.buf[:lengthPrefixBytes])
			if n > MaxFrameBytes {
				return frames, ErrFrameTooLarge
			}
			a.wantLen = int(n)
			a.buf = a.buf[lengthPrefixBytes:]
		}

		if len(a.buf) < a.wantLen {
			break
		}

		frame := make([]byte, a.wantLen)
		copy(frame, a.buf[:a.wantLen])
		a.buf = a.buf[a.wantLen:]
		a.wantLen = -1
		frames = append(frames, frame)
	}
	return frames, nil
}

// Reset discards any partially accumulated frame, used when a
// connection is torn down mid-frame.
func (a *Accumulator) Reset() {
	a.buf = nil
	a.wantLen = -1
}

// ReadFrame reads exactly one length-prefixed frame from r, blocking
// until it is fully available. pkg/session uses it to unwrap each
// message a transport delivers; Feed is the alternative for a chunked
// byte stream.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
