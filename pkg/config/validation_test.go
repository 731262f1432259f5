package config

import (
	"strings"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := GetDefaultConfig()
	cfg.Upload.Dir = t.TempDir()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig(t)

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig(t)
	cfg.Logging.Level = "VERBOSE"

	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for invalid log level")
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig(t)
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidServerPort(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.Port = 70000

	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for out-of-range port")
	}
}

func TestValidate_MetricsPortCollision(t *testing.T) {
	cfg := validConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when metrics port equals server port")
	}
	if !strings.Contains(err.Error(), "metrics.port") {
		t.Errorf("Expected error to mention metrics.port, got: %v", err)
	}
}

func TestValidate_MissingUploadDir(t *testing.T) {
	cfg := validConfig(t)
	cfg.Upload.Dir = ""

	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for missing upload dir")
	}
}

func TestValidate_MissingSQLitePath(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.SQLite.Path = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing sqlite path")
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("Expected error to mention database, got: %v", err)
	}
}

func TestValidate_IncompletePostgres(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.Type = "postgres"
	cfg.Database.Postgres.Host = "db.internal"
	// Database and user are missing.

	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for incomplete postgres config")
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := validConfig(t)
	cfg.Telemetry.SampleRate = 1.5

	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for sample rate above 1.0")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	// Lowercase levels are accepted by the oneof tag; ApplyDefaults is
	// responsible for normalizing them to uppercase.
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig(t)
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Expected lowercase level %q to pass validation, got: %v", level, err)
		}
	}
}
