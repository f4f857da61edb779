package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistryRegistersCoreMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r.CoreMetrics())

	// Core metrics must be usable immediately
	r.CoreMetrics().StoreOperations.WithLabelValues("graph", "createObject", "ok").Inc()
	r.CoreMetrics().SubscriptionsActive.Set(3)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["i3x_store_operations_total"])
	assert.True(t, names["i3x_subscriptions_active"])
}

func TestRegisterComponentMetric(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "subscription_queue_writes_total",
		Help: "test counter",
	})
	require.NoError(t, r.RegisterCounter("subscription", "queue_writes_total", c))

	// Duplicate registration is rejected
	err := r.RegisterCounter("subscription", "queue_writes_total", c)
	require.Error(t, err)

	// Unregister then re-register succeeds
	assert.True(t, r.Unregister("subscription", "queue_writes_total"))
	assert.False(t, r.Unregister("subscription", "queue_writes_total"))
	require.NoError(t, r.RegisterCounter("subscription", "queue_writes_total", c))
}

func TestRegisterGaugeAndHistogram(t *testing.T) {
	r := NewMetricsRegistry()

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "buffer_depth", Help: "test"})
	require.NoError(t, r.RegisterGauge("buffer", "depth", g))

	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "drain_seconds", Help: "test"})
	require.NoError(t, r.RegisterHistogram("buffer", "drain_seconds", h))
}
