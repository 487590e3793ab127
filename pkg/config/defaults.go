package config

import (
	"strings"

	"github.com/marmos91/framekit/pkg/handlers"
)

// DefaultMetricsPort is the metrics HTTP port used when none is configured.
const DefaultMetricsPort = 9090

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Server and client defaults are owned by their packages
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	cfg.Server.ApplyDefaults()
	cfg.Client.ApplyDefaults()
	applyHandlerDefaults(&cfg.Handler)
	applyMetricsDefaults(&cfg.Metrics)
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

func applyHandlerDefaults(cfg *HandlerConfig) {
	if cfg.Type == "" {
		cfg.Type = handlers.TypeEcho
	}
	if cfg.Options == nil {
		cfg.Options = make(map[string]any)
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// This is used by the init command to write a starting configuration file.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
