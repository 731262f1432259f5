package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration template written by
// 'ziplift init'. It documents every section with its default value so
// users can uncomment and adjust instead of consulting external docs.
const sampleConfig = `# Ziplift Configuration File
#
# This file configures the Ziplift upload coordinator.
# All values shown are defaults; uncomment and edit to customize.
#
# Any option can be overridden with an environment variable using the
# ZIPLIFT_ prefix, e.g. ZIPLIFT_LOGGING_LEVEL=DEBUG.

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: "INFO"
  # Output format: text (human-readable) or json (for log aggregation)
  format: "text"
  # Destination: stdout, stderr, or a file path
  output: "stdout"

# Maximum time to wait for in-flight requests during shutdown
shutdown_timeout: "30s"

server:
  # Listen address for the upload API
  host: "0.0.0.0"
  port: 8080
  # Chunk bodies stream several megabytes; keep read_timeout generous
  read_timeout: "5m"
  write_timeout: "1m"
  idle_timeout: "2m"

# Prometheus metrics endpoint (opt-in)
metrics:
  enabled: false
  host: "127.0.0.1"
  port: 9090
  path: "/metrics"

# OpenTelemetry distributed tracing (opt-in)
telemetry:
  enabled: false
  endpoint: "localhost:4317"
  insecure: true
  sample_rate: 1.0

database:
  # Bookkeeping database for sessions and chunks: sqlite or postgres
  type: "sqlite"
  sqlite:
    # Defaults to $XDG_CONFIG_HOME/ziplift/uploads.db
    # path: "/var/lib/ziplift/uploads.db"
  # postgres:
  #   host: "localhost"
  #   port: 5432
  #   database: "ziplift"
  #   user: "ziplift"
  #   password: ""
  #   ssl_mode: "disable"

upload:
  # Directory holding blob files being assembled
  # Defaults to $XDG_DATA_HOME/ziplift/uploads
  # dir: "/var/lib/ziplift/uploads"

  # Staging area for hash-verified chunk payloads (defaults to the
  # system temp directory)
  # temp_dir: "/var/lib/ziplift/tmp"

  # Fixed chunk size for every new session
  chunk_size: "5Mi"

  # Reap uploading sessions older than this
  abandon_after: "24h"

  # Period between recovery sweeps
  cleanup_interval: "1h"

  # Retain failed sessions for inspection before purging their records
  purge_after: "168h"
`

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
// Existing files are preserved unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s\n"+
			"Use --force to overwrite", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
