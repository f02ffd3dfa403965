// Package metrics exposes Prometheus collectors for slot pool
// utilization, session counts, batch throughput, NACK rate, and
// listener accept rate. Modeled on the teacher's metrics.go, but
// registered on a private prometheus.Registry instead of the global
// default registerer so multiple instances (e.g. in tests) never
// collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the sample binaries update.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	SessionsOpened    prometheus.Counter
	SessionsClosed    prometheus.Counter
	ConnectionsActive prometheus.Gauge

	SlotPoolCapacity *prometheus.GaugeVec
	SlotPoolInUse    *prometheus.GaugeVec

	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter

	BatchesFlushed      prometheus.Counter
	BatchUpdatesDeduped prometheus.Counter
	BatchFlushLatency   prometheus.Histogram

	NackSent    prometheus.Counter
	NackDropped prometheus.Counter

	AcceptedConnections prometheus.Counter
	RejectedConnections prometheus.Counter

	CPUPercent          prometheus.Gauge
	CPUAllocatedCores   prometheus.Gauge
	CPUThrottledPeriods prometheus.Counter
	CPUThrottledSeconds prometheus.Counter
}

// New builds a Metrics instance and registers every collector on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropysync_sessions_active",
		Help: "Current number of active sessions",
	})
	m.SessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_sessions_opened_total",
		Help: "Total number of sessions opened",
	})
	m.SessionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_sessions_closed_total",
		Help: "Total number of sessions closed",
	})
	m.ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropysync_connections_active",
		Help: "Current number of active transport connections",
	})

	m.SlotPoolCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "entropysync_slot_pool_capacity",
		Help: "Configured capacity of a slot pool",
	}, []string{"pool"})
	m.SlotPoolInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "entropysync_slot_pool_in_use",
		Help: "Currently occupied slots in a slot pool",
	}, []string{"pool"})

	m.MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_messages_sent_total",
		Help: "Total messages sent to peers",
	})
	m.MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_messages_received_total",
		Help: "Total messages received from peers",
	})
	m.BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_bytes_sent_total",
		Help: "Total bytes sent to peers",
	})
	m.BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_bytes_received_total",
		Help: "Total bytes received from peers",
	})

	m.BatchesFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_batches_flushed_total",
		Help: "Total property-update batches flushed",
	})
	m.BatchUpdatesDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_batch_updates_deduped_total",
		Help: "Total property updates deduped by last-writer-wins within a batch window",
	})
	m.BatchFlushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "entropysync_batch_flush_latency_seconds",
		Help:    "Time between batch open and flush",
		Buckets: prometheus.DefBuckets,
	})

	m.NackSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_schema_nack_sent_total",
		Help: "Total unknown-schema NACKs sent",
	})
	m.NackDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_schema_nack_rate_limited_total",
		Help: "Total unknown-schema NACKs suppressed by rate limiting",
	})

	m.AcceptedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_accept_total",
		Help: "Total inbound connections admitted by the listener",
	})
	m.RejectedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_accept_rejected_total",
		Help: "Total inbound connections rejected by the accept rate limiter",
	})

	m.CPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropysync_cpu_percent",
		Help: "CPU usage as a percentage of cores allocated to this process",
	})
	m.CPUAllocatedCores = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropysync_cpu_allocated_cores",
		Help: "Number of CPU cores allocated to this process (cgroup quota or host core count)",
	})
	m.CPUThrottledPeriods = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_cpu_throttled_periods_total",
		Help: "Total CFS scheduling periods in which this process was throttled",
	})
	m.CPUThrottledSeconds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropysync_cpu_throttled_seconds_total",
		Help: "Total time this process spent throttled by the CFS CPU quota",
	})

	m.registry.MustRegister(
		m.SessionsActive, m.SessionsOpened, m.SessionsClosed, m.ConnectionsActive,
		m.SlotPoolCapacity, m.SlotPoolInUse,
		m.MessagesSent, m.MessagesReceived, m.BytesSent, m.BytesReceived,
		m.BatchesFlushed, m.BatchUpdatesDeduped, m.BatchFlushLatency,
		m.NackSent, m.NackDropped,
		m.AcceptedConnections, m.RejectedConnections,
		m.CPUPercent, m.CPUAllocatedCores, m.CPUThrottledPeriods, m.CPUThrottledSeconds,
	)
	return m
}

// Handler returns an http.Handler serving this instance's metrics in
// the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests that want to
// assert on collected samples directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
