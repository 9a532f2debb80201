// Package metrics defines the operator's Prometheus collectors — an ambient
// operational concern the spec's Non-goals do not exclude (§4 of
// SPEC_FULL.md).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the controller exposes at GET /metrics.
type Registry struct {
	BuildsByStatus        *prometheus.GaugeVec
	ReconcilerLoopSeconds *prometheus.HistogramVec
	GatewayCallSeconds    *prometheus.HistogramVec
	GatewayRetriesTotal   *prometheus.CounterVec
	CleanupEscalations    prometheus.Counter
	EventBusSubscribers   prometheus.Gauge
}

// New registers every collector against reg and returns the Registry.
// Callers typically pass prometheus.NewRegistry() so tests don't collide on
// the global DefaultRegisterer.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		BuildsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runboat_builds",
			Help: "Number of builds currently at each derived status.",
		}, []string{"status"}),
		ReconcilerLoopSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runboat_reconciler_loop_seconds",
			Help:    "Duration of one reconciler pass.",
			Buckets: prometheus.DefBuckets,
		}, []string{"reconciler"}),
		GatewayCallSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runboat_gateway_call_seconds",
			Help:    "Duration of one Cluster Gateway operation, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		GatewayRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "runboat_gateway_retries_total",
			Help: "Number of transient-error retries performed by the Cluster Gateway.",
		}, []string{"operation"}),
		CleanupEscalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "runboat_cleanup_escalations_total",
			Help: "Number of cleanup jobs that exhausted retries and were escalated as an operational error.",
		}),
		EventBusSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "runboat_event_bus_subscribers",
			Help: "Current number of live Event Bus subscribers.",
		}),
	}
}

// ObserveBuildCounts overwrites the per-status gauges from a full snapshot,
// called once per Build Index change by the metrics reconciler.
func (r *Registry) ObserveBuildCounts(counts map[string]int) {
	for status, n := range counts {
		r.BuildsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
