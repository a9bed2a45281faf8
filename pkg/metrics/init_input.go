package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initInputMetrics() {
	r.InputDrainsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchtx_input_drains_total",
			Help: "Total number of transactional input materializations",
		},
		[]string{"status"},
	)

	r.InputItems = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchtx_input_items",
			Help:    "Number of items drained per transactional input",
			Buckets: prometheus.ExponentialBuckets(1, 10, 7),
		},
	)
}
