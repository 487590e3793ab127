package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// withConfigHome points the default config location at a fresh temp dir.
func withConfigHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

server:
  port: 9000
  idle_timeout: 90s

handler:
  type: "log"
  options:
    preview_bytes: 8
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level normalized to 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("Expected server port '9000', got %q", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 90*time.Second {
		t.Errorf("Expected idle_timeout 90s, got %v", cfg.Server.IdleTimeout)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Client.Port != "7700" {
		t.Errorf("Expected default client port '7700', got %q", cfg.Client.Port)
	}
	if cfg.Handler.Type != "log" {
		t.Errorf("Expected handler type 'log', got %q", cfg.Handler.Type)
	}
	if cfg.Handler.Options["preview_bytes"] == nil {
		t.Errorf("Expected handler options to carry preview_bytes, got %v", cfg.Handler.Options)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Keep the user's ~/.config/framekit out of the test
	withConfigHome(t)

	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Handler.Type != "echo" {
		t.Errorf("Expected default handler type 'echo', got %q", cfg.Handler.Type)
	}
	if cfg.Server.ByteOrder != "big" {
		t.Errorf("Expected default byte order 'big', got %q", cfg.Server.ByteOrder)
	}
}

func TestLoad_DefaultLocation(t *testing.T) {
	home := withConfigHome(t)

	dir := filepath.Join(home, ".config", "framekit")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 7800\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if !ConfigExists() {
		t.Fatal("Expected ConfigExists to find the default config file")
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Port != "7800" {
		t.Errorf("Expected server port '7800' from default location, got %q", cfg.Server.Port)
	}
}

func TestLoad_XDGConfigHome(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	want := filepath.Join(xdg, "framekit", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected default path %q, got %q", want, got)
	}
	if got := GetConfigDir(); got != filepath.Join(xdg, "framekit") {
		t.Errorf("Expected config dir under XDG_CONFIG_HOME, got %q", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", "logging:\n  level: [unterminated\n")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected read error, got: %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
handler:
  type: "teapot"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for unknown handler type")
	}
	if !strings.Contains(err.Error(), "configuration validation failed") {
		t.Errorf("Expected validation error, got: %v", err)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "DEBUG"
format = "json"

[server]
port = "7900"
max_connections = 64
lock_policy = "mutex"

[client]
host = "localhost"
parser_concurrency = 4
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Server.MaxConnections != 64 {
		t.Errorf("Expected max_connections 64, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.LockPolicy != "mutex" {
		t.Errorf("Expected lock_policy 'mutex', got %q", cfg.Server.LockPolicy)
	}
	if cfg.Client.Host != "localhost" {
		t.Errorf("Expected client host 'localhost', got %q", cfg.Client.Host)
	}
	if cfg.Client.ParserConcurrency != 4 {
		t.Errorf("Expected parser_concurrency 4, got %d", cfg.Client.ParserConcurrency)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	withConfigHome(t)

	configPath := writeConfig(t, "config.yaml", `
server:
  port: 9000
`)

	t.Setenv("FRAMEKIT_SERVER_PORT", "9100")
	t.Setenv("FRAMEKIT_LOGGING_LEVEL", "warn")
	t.Setenv("FRAMEKIT_CLIENT_RETRY_ATTEMPTS", "5")
	t.Setenv("FRAMEKIT_SERVER_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("FRAMEKIT_METRICS_ENABLED", "true")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "9100" {
		t.Errorf("Expected env to override server port to '9100', got %q", cfg.Server.Port)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected env level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Client.RetryAttempts != 5 {
		t.Errorf("Expected env retry_attempts 5, got %d", cfg.Client.RetryAttempts)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected env shutdown_timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected env to enable metrics")
	}
}
