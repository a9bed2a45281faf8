package storage

import (
	"sync"

	"github.com/dd0wney/cluso-batchtx/pkg/metrics"
)

// GraphStorage is an in-memory graph storage engine. It is the data store
// that bulk loaders write to and that change trackers read current values
// from.
type GraphStorage struct {
	// Core data structures
	nodes map[uint64]*Node
	edges map[uint64]*Edge

	// Indexes for fast lookups
	nodesByLabel  map[string]map[uint64]struct{} // label -> node IDs
	edgesByType   map[string][]uint64            // edge type -> edge IDs
	outgoingEdges map[uint64][]uint64            // node ID -> outgoing edge IDs
	incomingEdges map[uint64][]uint64            // node ID -> incoming edge IDs

	// ID generators
	nextNodeID uint64
	nextEdgeID uint64

	// Concurrency control
	mu     sync.RWMutex
	closed bool

	// Statistics (using atomic operations for thread-safety)
	stats Statistics

	metricsRegistry *metrics.Registry
}

// Statistics tracks database statistics
type Statistics struct {
	NodeCount        uint64
	EdgeCount        uint64
	WriteOperations  uint64
	ReadTransactions uint64 // Number of read transactions ever opened
}

// Option configures a GraphStorage
type Option func(*GraphStorage)

// WithMetrics records storage operations into the given registry
func WithMetrics(reg *metrics.Registry) Option {
	return func(gs *GraphStorage) {
		gs.metricsRegistry = reg
	}
}
