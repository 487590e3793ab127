// Package metrics defines what the framekit server and client report about
// their connections, and exposes those reports over HTTP for Prometheus.
//
// The server records accepts, worker lifetimes and per-packet handler work
// through ServerMetrics; the client records connects, received packets and
// parser runs through ClientMetrics. Both interfaces have no-op
// implementations, which the server and client select when given nil.
//
// Wiring, as done by config.InitializeMetrics:
//
//	metrics.InitRegistry()
//	srvMetrics := prometheus.NewServerMetrics() // framekit_server_*
//	cliMetrics := prometheus.NewClientMetrics() // framekit_client_*
//	httpSrv := metrics.NewServer(metrics.ServerConfig{Port: 9090})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every framekit metric name.
const Namespace = "framekit"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry that framekit collectors
// register on, seeded with the Go runtime and process collectors so a
// packet server's goroutine and file descriptor counts sit next to its
// connection counts.
//
// Only the first call has an effect. Until it runs, the collector
// constructors in the prometheus subpackage return no-op implementations and
// the /metrics endpoint answers 503.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
