package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initBatchMetrics() {
	r.CommitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchtx_commits_total",
			Help: "Total number of simulated commits by outcome",
		},
		[]string{"status"},
	)

	r.CommitDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchtx_commit_duration_seconds",
			Help:    "Time spent notifying observers of a simulated commit",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0, 10.0},
		},
	)

	r.CommitEntries = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchtx_commit_entries",
			Help:    "Number of diff entries replayed per simulated commit",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	r.MutationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchtx_mutations_total",
			Help: "Total number of tracked mutations",
		},
		[]string{"kind", "operation"},
	)

	r.PendingMutations = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "batchtx_pending_mutations",
			Help: "Mutations accumulated since the last simulated commit",
		},
	)

	r.ObserverFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchtx_observer_failures_total",
			Help: "Total number of observer failures during simulated commits",
		},
		[]string{"phase"},
	)

	r.UnpairedNotifications = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "batchtx_unpaired_notifications_total",
			Help: "Completing notifications received without their preparing notification",
		},
	)
}
