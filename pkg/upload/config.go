// Package upload implements the coordination core: session lifecycle,
// chunk ingestion, finalization, and crash recovery.
package upload

import (
	"fmt"
	"time"

	"github.com/ziplift/ziplift/internal/bytesize"
)

// Config holds the upload pipeline configuration.
type Config struct {
	// Dir is the directory holding blob files being assembled.
	Dir string `mapstructure:"dir" yaml:"dir" validate:"required"`

	// TempDir is the staging area for chunk payloads that carry a
	// client-declared hash. Payloads are verified there before any byte
	// reaches the blob.
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`

	// ChunkSize is the fixed chunk size every session is created with.
	// Default: "5Mi".
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// AbandonAfter is how long an uploading session may exist before the
	// recovery sweep reaps it. Default: 24h.
	AbandonAfter time.Duration `mapstructure:"abandon_after" yaml:"abandon_after"`

	// CleanupInterval is the period between recovery sweeps. Default: 1h.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`

	// PurgeAfter is how long failed sessions are retained for inspection
	// before their rows are purged. Default: 168h.
	PurgeAfter time.Duration `mapstructure:"purge_after" yaml:"purge_after"`
}

// DefaultConfig returns the default upload configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		ChunkSize:       5 * bytesize.MiB,
		AbandonAfter:    24 * time.Hour,
		CleanupInterval: time.Hour,
		PurgeAfter:      7 * 24 * time.Hour,
	}
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 5 * bytesize.MiB
	}
	if c.AbandonAfter == 0 {
		c.AbandonAfter = 24 * time.Hour
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Hour
	}
	if c.PurgeAfter == 0 {
		c.PurgeAfter = 7 * 24 * time.Hour
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("upload directory is required")
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.AbandonAfter <= 0 {
		return fmt.Errorf("abandon_after must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}
	if c.PurgeAfter <= 0 {
		return fmt.Errorf("purge_after must be positive")
	}
	return nil
}
