package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologContextEmitsStructuredFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str("service", "entropysync").Logger()

	logger.Info().Str("component", "test").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"service":"entropysync"`) {
		t.Errorf("expected service field in output, got %q", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Errorf("expected component field in output, got %q", out)
	}
}

func TestRecoverPanicSwallowsPanic(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	func() {
		defer RecoverPanic(logger, "test-goroutine", map[string]any{"k": "v"})
		panic("boom")
	}()

	if !strings.Contains(buf.String(), "goroutine panic recovered") {
		t.Errorf("expected panic recovery log line, got %q", buf.String())
	}
}

func TestRecoverPanicNoopWithoutPanic(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	func() {
		defer RecoverPanic(logger, "test-goroutine", nil)
	}()

	if buf.Len() != 0 {
		t.Errorf("expected no log output when nothing panicked, got %q", buf.String())
	}
}
