package config

import (
	"github.com/marmos91/framekit/pkg/metrics"
	promMetrics "github.com/marmos91/framekit/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// ServerMetrics is the collector for the packet server (never nil, uses noop if disabled)
	ServerMetrics metrics.ServerMetrics

	// ClientMetrics is the collector for the packet client (never nil, uses noop if disabled)
	ClientMetrics metrics.ClientMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed collectors for the server and the client
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// Collectors register with the global registry, so this should be called
// once per process.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server:        nil,
			ServerMetrics: metrics.NewNoopServerMetrics(),
			ClientMetrics: metrics.NewNoopClientMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Host: cfg.Metrics.Host,
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:        server,
		ServerMetrics: promMetrics.NewServerMetrics(),
		ClientMetrics: promMetrics.NewClientMetrics(),
	}
}
