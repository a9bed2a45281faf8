package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Storage Metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Batch commit Metrics
	CommitsTotal          *prometheus.CounterVec
	CommitDuration        prometheus.Histogram
	CommitEntries         prometheus.Histogram
	MutationsTotal        *prometheus.CounterVec
	PendingMutations      prometheus.Gauge
	ObserverFailuresTotal *prometheus.CounterVec
	UnpairedNotifications prometheus.Counter

	// Transactional input Metrics
	InputDrainsTotal *prometheus.CounterVec
	InputItems       prometheus.Histogram

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)
