package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/marmos91/framekit/pkg/client"
	"github.com/marmos91/framekit/pkg/server"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "FRAMEKIT"

// Config represents the complete framekit configuration.
//
// This structure captures all configurable aspects of a framekit process:
//   - Logging configuration
//   - Packet server settings
//   - Packet client settings
//   - Server packet handler selection and options
//   - Prometheus metrics exposition
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FRAMEKIT_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server configures the packet server started by "framekit serve"
	Server server.Config `mapstructure:"server"`

	// Client configures the packet client used by "framekit send"
	Client client.Config `mapstructure:"client"`

	// Handler selects the packet handler the server runs
	Handler HandlerConfig `mapstructure:"handler"`

	// Metrics controls the Prometheus exposition server
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// HandlerConfig selects the server packet handler.
//
// Options are decoded into handlers.Options by CreatePacketHandler.
type HandlerConfig struct {
	// Type specifies which handler to run
	// Valid values: echo, discard, log, record
	Type string `mapstructure:"type" validate:"required,oneof=echo discard log record"`

	// Options are the handler options (close_after, delay, preview_bytes, journal)
	Options map[string]any `mapstructure:"options"`
}

// MetricsConfig controls the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled"`

	// Host is the interface the metrics server binds. Empty binds all interfaces.
	Host string `mapstructure:"host"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FRAMEKIT_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the FRAMEKIT_ prefix and underscores
	// Example: FRAMEKIT_SERVER_PORT=9000
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/framekit/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnv registers every leaf key of t with viper so environment variables
// apply even when the config file does not mention the key.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for _, f := range fields(t) {
		key := f.key
		if prefix != "" {
			key = prefix + "." + key
		}

		switch {
		case f.field.Type.Kind() == reflect.Struct && f.field.Type.PkgPath() != "time":
			bindEnv(v, f.field.Type, key)
		case f.field.Type.Kind() == reflect.Map:
			// Free-form maps have no fixed keys.
		default:
			_ = v.BindEnv(key)
		}
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "framekit")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "framekit")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

// field is a struct field with its mapstructure key.
type field struct {
	key   string
	field reflect.StructField
	index int
}

// fields lists the exported fields of t that carry a mapstructure key.
func fields(t reflect.Type) []field {
	var out []field
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if key == "" || key == "-" {
			continue
		}
		out = append(out, field{key: key, field: f, index: i})
	}
	return out
}
