// Package metrics holds the Prometheus collectors of the collaboration
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "huddle"

type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsClosed   *prometheus.CounterVec
	RoomsActive      prometheus.Gauge
	RoomsEvicted     prometheus.Counter
	MessagesReceived *prometheus.CounterVec
	MessagesSent     prometheus.Counter
	ProtocolErrors   prometheus.Counter
	QueueOverflows   prometheus.Counter
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter
	Persists         *prometheus.CounterVec
	PersistDuration  prometheus.Histogram
}

// New registers the collectors with reg. Use a fresh prometheus.Registry in
// tests; registering twice with the same registerer panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected sessions",
		}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Closed sessions by reason",
		}, []string{"reason"}),
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of rooms in memory",
		}),
		RoomsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_evicted_total",
			Help:      "Rooms removed by the idle sweep or the admin API",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages by type",
		}, []string{"type"}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages written to streams",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound messages answered with an error",
		}),
		QueueOverflows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_overflows_total",
			Help:      "Messages refused by a full outgoing queue",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Inbound payload bytes",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Outbound payload bytes",
		}),
		Persists: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persists_total",
			Help:      "Room state writes by result",
		}, []string{"result"}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Latency of room state writes",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
