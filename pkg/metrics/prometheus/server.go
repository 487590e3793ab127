package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/framekit/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics is the Prometheus implementation of metrics.ServerMetrics.
type serverMetrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	activeConnections      prometheus.Gauge
	acceptErrors           prometheus.Counter
	packetsHandled         *prometheus.CounterVec
	handlerDuration        prometheus.Histogram
	bytesTransferred       *prometheus.CounterVec
	workersReclaimed       prometheus.Counter
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}

	reg := metrics.GetRegistry()

	return &serverMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "framekit_server_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "framekit_server_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "framekit_server_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown timeout",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "framekit_server_active_connections",
				Help: "Current number of active connections",
			},
		),
		acceptErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "framekit_server_accept_errors_total",
				Help: "Total number of failed accept calls",
			},
		),
		packetsHandled: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framekit_server_packets_handled_total",
				Help: "Total number of packets dispatched to the handler by outcome",
			},
			[]string{"outcome"}, // continue or close
		),
		handlerDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "framekit_server_handler_duration_milliseconds",
				Help: "Duration of packet handler calls in milliseconds",
				Buckets: []float64{
					0.1,  // 100us
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framekit_server_bytes_total",
				Help: "Total bytes transferred on worker connections",
			},
			[]string{"direction"}, // in or out
		),
		workersReclaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "framekit_server_workers_reclaimed_total",
				Help: "Total number of finished workers removed by accept-loop sweeps",
			},
		),
	}
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *serverMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *serverMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *serverMetrics) RecordAcceptError() {
	m.acceptErrors.Inc()
}

func (m *serverMetrics) RecordPacketHandled(duration time.Duration, result int) {
	outcome := "continue"
	if result <= 0 {
		outcome = "close"
	}
	m.packetsHandled.WithLabelValues(outcome).Inc()
	m.handlerDuration.Observe(float64(duration.Microseconds()) / 1000)
}

func (m *serverMetrics) RecordBytes(direction string, bytes int) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *serverMetrics) RecordWorkersReclaimed(count int) {
	m.workersReclaimed.Add(float64(count))
}

// statusLabel maps an error to the "status" label used by client metrics.
func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// boolLabel renders a boolean label value.
func boolLabel(b bool) string {
	return strconv.FormatBool(b)
}
