package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "invalid log format",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "unknown handler",
			mutate:  func(cfg *Config) { cfg.Handler.Type = "teapot" },
			wantErr: "Type",
		},
		{
			name:    "non-numeric server port",
			mutate:  func(cfg *Config) { cfg.Server.Port = "http" },
			wantErr: "Port",
		},
		{
			name:    "server port out of range",
			mutate:  func(cfg *Config) { cfg.Server.Port = "70000" },
			wantErr: "server: invalid port",
		},
		{
			name:    "client port zero",
			mutate:  func(cfg *Config) { cfg.Client.Port = "0" },
			wantErr: "client: invalid port",
		},
		{
			name:    "unknown byte order",
			mutate:  func(cfg *Config) { cfg.Server.ByteOrder = "middle" },
			wantErr: "ByteOrder",
		},
		{
			name:    "unknown lock policy",
			mutate:  func(cfg *Config) { cfg.Client.LockPolicy = "spin" },
			wantErr: "LockPolicy",
		},
		{
			name:    "negative idle timeout",
			mutate:  func(cfg *Config) { cfg.Server.IdleTimeout = -time.Second },
			wantErr: "IdleTimeout",
		},
		{
			name:    "retry max below base",
			mutate:  func(cfg *Config) { cfg.Client.RetryMaxDelay = time.Millisecond },
			wantErr: "retry delays",
		},
		{
			name: "metrics port clashes with server",
			mutate: func(cfg *Config) {
				cfg.Metrics.Enabled = true
				cfg.Server.Port = "9090"
			},
			wantErr: "already used by the packet server",
		},
		{
			name: "metrics port clash ignored when disabled",
			mutate: func(cfg *Config) {
				cfg.Server.Port = "9090"
			},
		},
		{
			name:    "metrics port out of range",
			mutate:  func(cfg *Config) { cfg.Metrics.Port = 70000 },
			wantErr: "Metrics.Port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
