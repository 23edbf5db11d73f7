// Package metrics provides Prometheus metrics for the DWN write core
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for dwnnode
type Metrics struct {
	// Write pipeline metrics
	WriteRequestsTotal   *prometheus.CounterVec
	WriteRequestDuration *prometheus.HistogramVec
	WriteRequestsInFlight prometheus.Gauge
	WriteConflictsTotal  prometheus.Counter
	WriteNoopTotal       prometheus.Counter

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreSizeBytes         prometheus.Gauge
	StoreMessagesTotal     prometheus.Gauge

	// Query metrics
	QueryRequestsTotal prometheus.Counter
	QueryResultsTotal  prometheus.Counter

	// Authorization metrics
	AuthzDeniedTotal *prometheus.CounterVec
	AuthzAllowedTotal prometheus.Counter

	// Node metrics
	NodeUptimeSeconds prometheus.Gauge
	NodeStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		NodeStartTime: time.Now(),
	}

	// Write pipeline metrics
	m.WriteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_write_requests_total",
			Help: "Total number of CollectionsWrite requests processed, by pipeline stage and status",
		},
		[]string{"stage", "status"},
	)

	m.WriteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dwn_write_duration_seconds",
			Help:    "Duration of the full write pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	m.WriteRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwn_write_requests_in_flight",
			Help: "Number of writes currently holding their per-record lock",
		},
	)

	m.WriteConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_write_conflicts_total",
			Help: "Total number of writes rejected by the conflict resolution rule",
		},
	)

	m.WriteNoopTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_write_noop_total",
			Help: "Total number of writes accepted as idempotent no-ops (exact duplicate of the current tip)",
		},
	)

	// Store metrics
	m.StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_store_operations_total",
			Help: "Total number of message store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dwn_store_operation_duration_seconds",
			Help:    "Duration of message store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.StoreSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwn_store_size_bytes",
			Help: "Current message store size in bytes",
		},
	)

	m.StoreMessagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwn_store_messages_total",
			Help: "Total number of messages in the store",
		},
	)

	// Query metrics
	m.QueryRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_query_requests_total",
			Help: "Total number of query requests",
		},
	)

	m.QueryResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_query_results_total",
			Help: "Total number of entries returned across all queries",
		},
	)

	// Authorization metrics
	m.AuthzDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_authz_denied_total",
			Help: "Total number of writes denied by protocol authorization, by reason",
		},
		[]string{"reason"},
	)

	m.AuthzAllowedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_authz_allowed_total",
			Help: "Total number of writes allowed by protocol authorization",
		},
	)

	// Node metrics
	m.NodeUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwn_node_uptime_seconds",
			Help: "Node uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the node uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.NodeUptimeSeconds.Set(time.Since(m.NodeStartTime).Seconds())
	}
}

// RecordWriteStage records the outcome of one write-pipeline stage
func (m *Metrics) RecordWriteStage(stage string, status string) {
	m.WriteRequestsTotal.WithLabelValues(stage, status).Inc()
}

// RecordWrite records the terminal outcome of a full write
func (m *Metrics) RecordWrite(status string, duration time.Duration) {
	m.WriteRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStoreOperation records a message store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthzDenied records a protocol authorization denial by reason
func (m *Metrics) RecordAuthzDenied(reason string) {
	m.AuthzDeniedTotal.WithLabelValues(reason).Inc()
}

// UpdateStoreStats updates message store statistics
func (m *Metrics) UpdateStoreStats(sizeBytes int64, messageCount int64) {
	m.StoreSizeBytes.Set(float64(sizeBytes))
	m.StoreMessagesTotal.Set(float64(messageCount))
}
