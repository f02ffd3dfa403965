// Package logging builds the zerolog logger shared by the sample
// binaries, mirroring the teacher's NewLogger/LogError helpers.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's minimum level and output format.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "console"
}

// New builds a zerolog.Logger configured for either structured JSON
// (production) or a human-readable console writer (local dev).
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "entropysync").
		Logger()
}

// LogError logs err with msg and optional structured fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// RecoverPanic is intended for a goroutine's deferred call: it logs a
// recovered panic with a stack trace without re-panicking, so one
// goroutine's crash doesn't take the process down with it.
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	event := logger.Error().
		Str("goroutine", goroutineName).
		Interface("panic_value", r).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg("goroutine panic recovered")
}
