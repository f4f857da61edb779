package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics (not component-specific)
type Metrics struct {
	// Store metrics
	StoreOperations       *prometheus.CounterVec
	StoreOperationSeconds *prometheus.HistogramVec
	ObjectsTotal          prometheus.Gauge
	ValuePointsWritten    prometheus.Counter

	// Change notification metrics
	EventsPublished *prometheus.CounterVec
	EventsDelivered prometheus.Counter
	EventsDropped   prometheus.Counter

	// Subscription metrics
	SubscriptionsActive  prometheus.Gauge
	SubscriptionsExpired prometheus.Counter

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "i3x",
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total store operations by store, operation and outcome",
			},
			[]string{"store", "operation", "status"},
		),

		StoreOperationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "i3x",
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store", "operation"},
		),

		ObjectsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "i3x",
				Subsystem: "graph",
				Name:      "objects",
				Help:      "Current number of objects in the graph store",
			},
		),

		ValuePointsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "i3x",
				Subsystem: "values",
				Name:      "points_written_total",
				Help:      "Total value points appended to the value store",
			},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "i3x",
				Subsystem: "notifier",
				Name:      "events_published_total",
				Help:      "Total change events published by type",
			},
			[]string{"type"},
		),

		EventsDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "i3x",
				Subsystem: "subscriptions",
				Name:      "events_delivered_total",
				Help:      "Total events delivered to subscription queues",
			},
		),

		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "i3x",
				Subsystem: "subscriptions",
				Name:      "events_dropped_total",
				Help:      "Total events dropped from subscription queues on overflow",
			},
		),

		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "i3x",
				Subsystem: "subscriptions",
				Name:      "active",
				Help:      "Current number of active subscriptions",
			},
		),

		SubscriptionsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "i3x",
				Subsystem: "subscriptions",
				Name:      "expired_total",
				Help:      "Total subscriptions reaped by idle expiry",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "i3x",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "i3x",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
}

// collectors returns all core metrics for bulk registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StoreOperations,
		m.StoreOperationSeconds,
		m.ObjectsTotal,
		m.ValuePointsWritten,
		m.EventsPublished,
		m.EventsDelivered,
		m.EventsDropped,
		m.SubscriptionsActive,
		m.SubscriptionsExpired,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	}
}
