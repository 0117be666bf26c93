// Package metrics holds the Prometheus instruments of the consistency and
// precondition core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the core.
type Metrics struct {
	// Read path
	ResolvesTotal     *prometheus.CounterVec   // ecstore_resolves_total{policy,outcome}
	ResolveDuration   *prometheus.HistogramVec // ecstore_resolve_duration_seconds{policy}
	ReplicaFetches    *prometheus.CounterVec   // ecstore_replica_fetches_total{outcome}
	StaleReplicasSeen prometheus.Counter       // ecstore_stale_replicas_total

	// Write path
	PreconditionsTotal *prometheus.CounterVec // ecstore_preconditions_total{expect,outcome}
	WritesTotal        *prometheus.CounterVec // ecstore_writes_total{operation,outcome}

	// Placement
	PlacementsTotal *prometheus.CounterVec // ecstore_placements_total{policy,outcome}
}

// New registers the metrics with registry. A nil registry creates a private
// one, which keeps tests independent of the default registerer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		ResolvesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecstore_resolves_total",
			Help: "Read resolutions by consistency policy and outcome",
		}, []string{"policy", "outcome"}),

		ResolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ecstore_resolve_duration_seconds",
			Help:    "Read resolution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"policy"}),

		ReplicaFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecstore_replica_fetches_total",
			Help: "Replica fetches by outcome",
		}, []string{"outcome"}),

		StaleReplicasSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecstore_stale_replicas_total",
			Help: "Replicas found lagging behind the reconciled version",
		}),

		PreconditionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecstore_preconditions_total",
			Help: "Precondition evaluations by expect kind and outcome",
		}, []string{"expect", "outcome"}),

		WritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecstore_writes_total",
			Help: "Writes by operation and outcome",
		}, []string{"operation", "outcome"}),

		PlacementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecstore_placements_total",
			Help: "Segment placements by allocation policy and outcome",
		}, []string{"policy", "outcome"}),
	}
}

// ObserveResolve records one resolution. Safe to call on a nil receiver.
func (m *Metrics) ObserveResolve(policy, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.ResolvesTotal.WithLabelValues(policy, outcome).Inc()
	m.ResolveDuration.WithLabelValues(policy).Observe(time.Since(started).Seconds())
}

// ObserveFetches records replica fetch outcomes. Safe on a nil receiver.
func (m *Metrics) ObserveFetches(ok, failed, stale int) {
	if m == nil {
		return
	}
	m.ReplicaFetches.WithLabelValues("ok").Add(float64(ok))
	m.ReplicaFetches.WithLabelValues("failed").Add(float64(failed))
	m.StaleReplicasSeen.Add(float64(stale))
}

// ObservePrecondition records one precondition evaluation. Safe on a nil
// receiver.
func (m *Metrics) ObservePrecondition(expectKind string, passed bool) {
	if m == nil {
		return
	}
	m.PreconditionsTotal.WithLabelValues(expectKind, outcome(passed)).Inc()
}

// ObserveWrite records one write. Safe on a nil receiver.
func (m *Metrics) ObserveWrite(operation string, ok bool) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(operation, outcome(ok)).Inc()
}

// ObservePlacement records one placement run. Safe on a nil receiver.
func (m *Metrics) ObservePlacement(policy string, ok bool) {
	if m == nil {
		return
	}
	m.PlacementsTotal.WithLabelValues(policy, outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
