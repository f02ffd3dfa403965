package compress

import (
	"bytes"
	"testing"
)

func TestZstdRoundTrip(t *testing.T) {
	t.Parallel()
	c := New(Zstd)
	src := bytes.Repeat([]byte("entity-position-update-payload"), 64)

	compressed, err := c.Compress(nil, src)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) >= len(src) {
		t.Errorf("expected repetitive payload to shrink, got %d >= %d", len(compressed), len(src))
	}

	decompressed, err := c.Decompress(nil, compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(decompressed, src) {
		t.Error("round trip did not reproduce the original payload")
	}
}

func TestZstdRoundTripEmpty(t *testing.T) {
	t.Parallel()
	c := New(Zstd)
	compressed, err := c.Compress(nil, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	decompressed, err := c.Decompress(nil, compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if len(decompressed) != 0 {
		t.Errorf("expected empty round trip, got %d bytes", len(decompressed))
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	t.Parallel()
	c := New(LZ4)
	src := bytes.Repeat([]byte("entity-position-update-payload"), 64)

	bound := c.CompressBound(len(src))
	compressed, err := c.Compress(make([]byte, 0, bound), src)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	dst := make([]byte, len(src))
	decompressed, err := c.Decompress(dst, compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(decompressed, src) {
		t.Error("round trip did not reproduce the original payload")
	}
}

func TestCompressBoundNonNegativeForEmptyInput(t *testing.T) {
	t.Parallel()
	for _, alg := range []Algorithm{Zstd, LZ4} {
		c := New(alg)
		if got := c.CompressBound(0); got < 0 {
			t.Errorf("%v: expected non-negative bound for empty input, got %d", alg, got)
		}
	}
}

func TestAlgorithmString(t *testing.T) {
	t.Parallel()
	cases := map[Algorithm]string{Zstd: "zstd", LZ4: "lz4", Algorithm(99): "unknown"}
	for alg, want := range cases {
		if got := alg.String(); got != want {
			t.Errorf("Algorithm(%d).String() = %q, want %q", alg, got, want)
		}
	}
}
