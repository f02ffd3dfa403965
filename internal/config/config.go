// Package config loads environment-driven configuration for the
// sample server/client binaries: slot pool capacities, batcher
// tuning, NACK policy, listener accept rate, and the ambient
// logging/metrics/compression choices. Modeled on the teacher's
// LoadConfig/Validate/Print/LogConfig quartet.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable the sample binaries read from the
// environment. Tags:
//
//	env:        environment variable name
//	envDefault: value used when the variable is unset
type Config struct {
	// Server basics
	Addr string `env:"ENTROPYSYNC_ADDR" envDefault:":7777"`

	// Capacity
	MaxSessions    int `env:"ENTROPYSYNC_MAX_SESSIONS" envDefault:"2000"`
	MaxConnections int `env:"ENTROPYSYNC_MAX_CONNECTIONS" envDefault:"2000"`

	// Property batching
	BatchIntervalMs    uint32 `env:"ENTROPYSYNC_BATCH_INTERVAL_MS" envDefault:"50"`
	BatchMinIntervalMs uint32 `env:"ENTROPYSYNC_BATCH_MIN_INTERVAL_MS" envDefault:"16"`
	BatchMaxIntervalMs uint32 `env:"ENTROPYSYNC_BATCH_MAX_INTERVAL_MS" envDefault:"500"`

	// NACK policy
	NackEnabled       bool          `env:"ENTROPYSYNC_NACK_ENABLED" envDefault:"true"`
	NackRateLimit     int           `env:"ENTROPYSYNC_NACK_RATE_LIMIT" envDefault:"5"`
	NackLogSuppressMs time.Duration `env:"ENTROPYSYNC_NACK_LOG_SUPPRESS" envDefault:"10s"`

	// Listener accept-rate admission control
	AcceptGlobalRate    float64       `env:"ENTROPYSYNC_ACCEPT_GLOBAL_RATE" envDefault:"50.0"`
	AcceptGlobalBurst   int           `env:"ENTROPYSYNC_ACCEPT_GLOBAL_BURST" envDefault:"300"`
	AcceptPerRemoteRate float64       `env:"ENTROPYSYNC_ACCEPT_PER_REMOTE_RATE" envDefault:"1.0"`
	AcceptPerRemoteTTL  time.Duration `env:"ENTROPYSYNC_ACCEPT_PER_REMOTE_TTL" envDefault:"5m"`

	// Resource limits (from container)
	CPULimit    float64 `env:"ENTROPYSYNC_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"ENTROPYSYNC_MEMORY_LIMIT" envDefault:"536870912"` // 512MB

	// Compression
	CompressionAlgorithm string `env:"ENTROPYSYNC_COMPRESSION" envDefault:"zstd"`

	// Catalog bridge (optional)
	NatsURL       string `env:"ENTROPYSYNC_NATS_URL" envDefault:""`
	KafkaBrokers  string `env:"ENTROPYSYNC_KAFKA_BROKERS" envDefault:""`
	SnapshotTopic string `env:"ENTROPYSYNC_SNAPSHOT_TOPIC" envDefault:"entropysync.snapshots"`

	// Monitoring
	MetricsAddr     string        `env:"ENTROPYSYNC_METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"ENTROPYSYNC_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"ENTROPYSYNC_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ENTROPYSYNC_LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENTROPYSYNC_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and the
// environment, validates it, and returns it. logger may be nil; it is
// used only to narrate where the .env file was (or wasn't) found.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internally inconsistent or
// out-of-range values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ENTROPYSYNC_ADDR is required")
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("ENTROPYSYNC_MAX_SESSIONS must be > 0, got %d", c.MaxSessions)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("ENTROPYSYNC_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.BatchMinIntervalMs > c.BatchMaxIntervalMs {
		return fmt.Errorf("ENTROPYSYNC_BATCH_MIN_INTERVAL_MS (%d) must be <= ENTROPYSYNC_BATCH_MAX_INTERVAL_MS (%d)",
			c.BatchMinIntervalMs, c.BatchMaxIntervalMs)
	}
	if c.BatchIntervalMs < c.BatchMinIntervalMs || c.BatchIntervalMs > c.BatchMaxIntervalMs {
		return fmt.Errorf("ENTROPYSYNC_BATCH_INTERVAL_MS (%d) must be within [%d, %d]",
			c.BatchIntervalMs, c.BatchMinIntervalMs, c.BatchMaxIntervalMs)
	}

	validAlgorithms := map[string]bool{"zstd": true, "lz4": true}
	if !validAlgorithms[c.CompressionAlgorithm] {
		return fmt.Errorf("ENTROPYSYNC_COMPRESSION must be one of: zstd, lz4 (got: %s)", c.CompressionAlgorithm)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("ENTROPYSYNC_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("ENTROPYSYNC_LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig emits the resolved configuration as a single structured
// log line, mirroring the teacher's LogConfig helper.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_sessions", c.MaxSessions).
		Int("max_connections", c.MaxConnections).
		Uint32("batch_interval_ms", c.BatchIntervalMs).
		Bool("nack_enabled", c.NackEnabled).
		Float64("accept_global_rate", c.AcceptGlobalRate).
		Float64("cpu_limit", c.CPULimit).
		Int64("memory_limit_mb", c.MemoryLimit/(1024*1024)).
		Str("compression", c.CompressionAlgorithm).
		Str("metrics_addr", c.MetricsAddr).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
