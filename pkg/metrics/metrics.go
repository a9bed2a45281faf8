package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initStorageMetrics()
	r.initBatchMetrics()
	r.initInputMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RecordStorageOperation records a storage operation
func (r *Registry) RecordStorageOperation(operation, status string, duration time.Duration) {
	r.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	r.StorageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordMutation counts one completed mutation notification and updates the pending gauge
func (r *Registry) RecordMutation(kind, op string, pending int) {
	r.MutationsTotal.WithLabelValues(kind, op).Inc()
	r.PendingMutations.Set(float64(pending))
}

// RecordCommit records a simulated commit. status is "committed", "empty" or "failed".
func (r *Registry) RecordCommit(status string, entries int, duration time.Duration) {
	r.CommitsTotal.WithLabelValues(status).Inc()
	r.PendingMutations.Set(0)
	if status == "empty" {
		return
	}
	r.CommitDuration.Observe(duration.Seconds())
	r.CommitEntries.Observe(float64(entries))
}

// RecordObserverFailure counts an observer failing in the given phase
func (r *Registry) RecordObserverFailure(phase string) {
	r.ObserverFailuresTotal.WithLabelValues(phase).Inc()
}

// RecordUnpairedNotification counts a completing notification without its preparing call
func (r *Registry) RecordUnpairedNotification() {
	r.UnpairedNotifications.Inc()
}

// RecordInputDrain records a transactional input materialization
func (r *Registry) RecordInputDrain(status string, items int) {
	r.InputDrainsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		r.InputItems.Observe(float64(items))
	}
}
