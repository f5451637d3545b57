// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Message path
	MessagesPublished *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	DeliveriesDropped *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec

	// Connections
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  *prometheus.CounterVec

	// Heartbeats
	HeartbeatsTotal   *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec

	// Authorization
	DecisionsTotal *prometheus.CounterVec

	// Decision cache
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

var globalMetrics *Metrics

// NewMetrics creates and registers Prometheus metrics
func NewMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		MessagesPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_published_total",
				Help: "Total number of messages persisted and fanned out",
			},
			[]string{"tenant_id"},
		),

		MessagesDelivered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_delivered_total",
				Help: "Total number of per-member message deliveries",
			},
			[]string{"tenant_id"},
		),

		MessagesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_rejected_total",
				Help: "Total number of rejected inbound messages",
			},
			[]string{"tenant_id", "reason"},
		),

		DeliveriesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_deliveries_dropped_total",
				Help: "Total number of deliveries dropped due to a slow member",
			},
			[]string{"tenant_id"},
		),

		PublishDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_publish_duration_seconds",
				Help:    "Duration of persist plus fan-out per message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant_id"},
		),

		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_connections_active",
				Help: "Number of currently active connections",
			},
		),

		ConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_connections_total",
				Help: "Total number of connection attempts",
			},
			[]string{"status"},
		),

		HeartbeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_heartbeats_total",
				Help: "Total number of heartbeats received",
			},
			[]string{"status"},
		),

		StatusTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_status_transitions_total",
				Help: "Total number of peer liveness transitions",
			},
			[]string{"event"},
		),

		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"action", "reason"},
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_cache_hits_total",
				Help: "Total number of decision cache hits",
			},
			[]string{"cache_type"},
		),

		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_cache_misses_total",
				Help: "Total number of decision cache misses",
			},
			[]string{"cache_type"},
		),
	}

	return globalMetrics
}

// RecordPublish records a successful publish
func (m *Metrics) RecordPublish(tenantID string, duration float64) {
	m.MessagesPublished.WithLabelValues(tenantID).Inc()
	m.PublishDuration.WithLabelValues(tenantID).Observe(duration)
}

// RecordDelivery records a per-member delivery
func (m *Metrics) RecordDelivery(tenantID string) {
	m.MessagesDelivered.WithLabelValues(tenantID).Inc()
}

// RecordRejection records a rejected inbound message
func (m *Metrics) RecordRejection(tenantID, reason string) {
	m.MessagesRejected.WithLabelValues(tenantID, reason).Inc()
}

// RecordDroppedDelivery records a delivery dropped on a slow member
func (m *Metrics) RecordDroppedDelivery(tenantID string) {
	m.DeliveriesDropped.WithLabelValues(tenantID).Inc()
}

// RecordConnection records a connection attempt outcome
func (m *Metrics) RecordConnection(status string) {
	m.ConnectionsTotal.WithLabelValues(status).Inc()
}

// RecordHeartbeat records a heartbeat ingest outcome
func (m *Metrics) RecordHeartbeat(status string) {
	m.HeartbeatsTotal.WithLabelValues(status).Inc()
}

// RecordStatusTransition records a peer liveness transition
func (m *Metrics) RecordStatusTransition(event string) {
	m.StatusTransitions.WithLabelValues(event).Inc()
}

// RecordDecision records an authorization decision
func (m *Metrics) RecordDecision(action, reason string) {
	m.DecisionsTotal.WithLabelValues(action, reason).Inc()
}

// RecordCacheHit records a decision cache hit
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a decision cache miss
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
