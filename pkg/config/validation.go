package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid or inconsistent values.
//
// Struct tags handle the field-level rules (required, oneof, ranges);
// cross-field rules that tags cannot express are checked explicitly.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			// Report the first violation with its namespace so the user
			// can find the offending key.
			e := errs[0]
			return fmt.Errorf("invalid value for %s: failed %q validation", e.Namespace(), e.Tag())
		}
		return fmt.Errorf("validation error: %w", err)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535")
		}
		if cfg.Metrics.Port == cfg.Server.Port {
			return fmt.Errorf("metrics.port must differ from server.port")
		}
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := cfg.Upload.Validate(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	return nil
}
