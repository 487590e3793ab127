package prometheus

import (
	"time"

	"github.com/marmos91/framekit/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// clientMetrics is the Prometheus implementation of metrics.ClientMetrics.
type clientMetrics struct {
	connects         *prometheus.CounterVec
	disconnects      *prometheus.CounterVec
	packetsReceived  prometheus.Counter
	packetsSent      *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	parseDuration    *prometheus.HistogramVec
	parsersInFlight  prometheus.Gauge
}

// NewClientMetrics creates a Prometheus-backed ClientMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewClientMetrics() metrics.ClientMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopClientMetrics()
	}

	reg := metrics.GetRegistry()

	return &clientMetrics{
		connects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framekit_client_connects_total",
				Help: "Total number of connection attempts by status",
			},
			[]string{"status"},
		),
		disconnects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framekit_client_disconnects_total",
				Help: "Total number of completed disconnects by origin",
			},
			[]string{"internal"},
		),
		packetsReceived: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "framekit_client_packets_received_total",
				Help: "Total number of packets received",
			},
		),
		packetsSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framekit_client_packets_sent_total",
				Help: "Total number of packets sent by status",
			},
			[]string{"status"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framekit_client_bytes_total",
				Help: "Total payload bytes transferred by the client",
			},
			[]string{"direction"},
		),
		parseDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "framekit_client_parse_duration_milliseconds",
				Help: "Duration of parser tasks in milliseconds",
				Buckets: []float64{
					0.1,  // 100us
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"status"},
		),
		parsersInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "framekit_client_parsers_in_flight",
				Help: "Current number of listed parser tasks",
			},
		),
	}
}

func (m *clientMetrics) RecordConnect(err error) {
	m.connects.WithLabelValues(statusLabel(err)).Inc()
}

func (m *clientMetrics) RecordDisconnect(internal bool) {
	m.disconnects.WithLabelValues(boolLabel(internal)).Inc()
}

func (m *clientMetrics) RecordPacketReceived(bytes int) {
	m.packetsReceived.Inc()
	m.bytesTransferred.WithLabelValues(metrics.DirectionIn).Add(float64(bytes))
}

func (m *clientMetrics) RecordPacketSent(bytes int, err error) {
	m.packetsSent.WithLabelValues(statusLabel(err)).Inc()
	m.bytesTransferred.WithLabelValues(metrics.DirectionOut).Add(float64(bytes))
}

func (m *clientMetrics) RecordParse(duration time.Duration, err error) {
	m.parseDuration.WithLabelValues(statusLabel(err)).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *clientMetrics) SetParsersInFlight(count int) {
	m.parsersInFlight.Set(float64(count))
}
