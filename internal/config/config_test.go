package config

import "testing"

func validConfig() *Config {
	return &Config{
		Addr:               ":7777",
		MaxSessions:        10,
		MaxConnections:     10,
		BatchIntervalMs:    50,
		BatchMinIntervalMs: 16,
		BatchMaxIntervalMs: 500,
		CompressionAlgorithm: "zstd",
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsEmptyAddr(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Addr = ""
	if err := c.Validate(); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestValidateRejectsInvertedBatchRange(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.BatchMinIntervalMs = 100
	c.BatchMaxIntervalMs = 50
	if err := c.Validate(); err == nil {
		t.Error("expected error for inverted batch interval range")
	}
}

func TestValidateRejectsIntervalOutsideRange(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.BatchIntervalMs = 1000
	if err := c.Validate(); err == nil {
		t.Error("expected error for batch interval outside [min, max]")
	}
}

func TestValidateRejectsUnknownCompressionAlgorithm(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.CompressionAlgorithm = "brotli"
	if err := c.Validate(); err == nil {
		t.Error("expected error for unsupported compression algorithm")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Error("expected error for unsupported log level")
	}
}
