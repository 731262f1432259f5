package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ziplift/ziplift/internal/telemetry"
	"github.com/ziplift/ziplift/pkg/api"
	"github.com/ziplift/ziplift/pkg/metrics"
	"github.com/ziplift/ziplift/pkg/upload"
	"github.com/ziplift/ziplift/pkg/upload/store"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyDatabaseDefaults(&cfg.Database)
	applyUploadDefaults(&cfg.Upload)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *telemetry.Config) {
	// Enabled defaults to false (opt-in for telemetry)

	if cfg.ServiceName == "" {
		cfg.ServiceName = "ziplift"
	}

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyServerDefaults sets upload API HTTP server defaults.
// The API is always enabled; it is the whole point of the process.
func applyServerDefaults(cfg *api.Config) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		// Chunk bodies stream several megabytes; keep this generous.
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *metrics.ServerConfig) {
	// Enabled defaults to false (opt-in for metrics)
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
}

// applyDatabaseDefaults sets bookkeeping database defaults.
func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

// applyUploadDefaults sets upload pipeline defaults.
// The staging directory defaults to $XDG_DATA_HOME/ziplift/uploads.
func applyUploadDefaults(cfg *upload.Config) {
	if cfg.Dir == "" {
		cfg.Dir = defaultUploadDir()
	}
	cfg.ApplyDefaults()
}

// defaultUploadDir returns the default blob staging directory.
func defaultUploadDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "ziplift", "uploads")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "uploads")
	}

	return filepath.Join(home, ".local", "share", "ziplift", "uploads")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Database: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
