package storage

import (
	"sync/atomic"
	"time"
)

// NewGraphStorage creates an empty graph storage
func NewGraphStorage(opts ...Option) *GraphStorage {
	gs := &GraphStorage{
		nodes:         make(map[uint64]*Node),
		edges:         make(map[uint64]*Edge),
		nodesByLabel:  make(map[string]map[uint64]struct{}),
		edgesByType:   make(map[string][]uint64),
		outgoingEdges: make(map[uint64][]uint64),
		incomingEdges: make(map[uint64][]uint64),
		nextNodeID:    1,
		nextEdgeID:    1,
	}
	for _, opt := range opts {
		opt(gs)
	}
	return gs
}

// GetStatistics returns current database statistics
func (gs *GraphStorage) GetStatistics() Statistics {
	return Statistics{
		NodeCount:        atomic.LoadUint64(&gs.stats.NodeCount),
		EdgeCount:        atomic.LoadUint64(&gs.stats.EdgeCount),
		WriteOperations:  atomic.LoadUint64(&gs.stats.WriteOperations),
		ReadTransactions: atomic.LoadUint64(&gs.stats.ReadTransactions),
	}
}

// Close marks the storage closed. Further operations fail with ErrStorageClosed.
func (gs *GraphStorage) Close() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.closed = true
	return nil
}

// checkClosed returns an error if the storage is closed.
// Assumes the caller holds gs.mu.
func (gs *GraphStorage) checkClosed() error {
	if gs.closed {
		return ErrStorageClosed
	}
	return nil
}

func (gs *GraphStorage) allocateNodeID() (uint64, error) {
	if gs.nextNodeID == ^uint64(0) {
		return 0, ErrIDSpaceExhausted
	}
	id := gs.nextNodeID
	gs.nextNodeID++
	return id, nil
}

func (gs *GraphStorage) allocateEdgeID() (uint64, error) {
	if gs.nextEdgeID == ^uint64(0) {
		return 0, ErrIDSpaceExhausted
	}
	id := gs.nextEdgeID
	gs.nextEdgeID++
	return id, nil
}

// recordOperation records storage operation metrics
func (gs *GraphStorage) recordOperation(operation string, err error, start time.Time) {
	if err == nil {
		atomic.AddUint64(&gs.stats.WriteOperations, 1)
	}
	if gs.metricsRegistry == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	gs.metricsRegistry.RecordStorageOperation(operation, status, time.Since(start))
}

func copyProperties(props map[string]Value) map[string]Value {
	out := make(map[string]Value, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// dedupeLabels returns labels with duplicates removed, preserving first occurrence order
func dedupeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
