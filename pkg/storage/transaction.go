package storage

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// ReadTransaction is a bounded read-only scope over the storage. It holds the
// storage read lock from BeginRead until Close, so writers block while it is
// open. Writing from the goroutine that holds an open ReadTransaction deadlocks.
type ReadTransaction struct {
	gs        *GraphStorage
	id        uint64
	active    atomic.Bool
	closeOnce sync.Once
}

// BeginRead opens a read transaction
func (gs *GraphStorage) BeginRead(ctx context.Context) (*ReadTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gs.mu.RLock()
	if gs.closed {
		gs.mu.RUnlock()
		return nil, ErrStorageClosed
	}

	tx := &ReadTransaction{
		gs: gs,
		id: atomic.AddUint64(&gs.stats.ReadTransactions, 1),
	}
	tx.active.Store(true)
	return tx, nil
}

// ID returns the sequence number of this read transaction
func (tx *ReadTransaction) ID() uint64 {
	return tx.id
}

// Active reports whether the transaction is still open
func (tx *ReadTransaction) Active() bool {
	return tx.active.Load()
}

// Close releases the read lock. Closing twice is a no-op.
func (tx *ReadTransaction) Close() error {
	tx.closeOnce.Do(func() {
		tx.active.Store(false)
		tx.gs.mu.RUnlock()
	})
	return nil
}

// GetNode retrieves a node inside the transaction
func (tx *ReadTransaction) GetNode(nodeID uint64) (*Node, error) {
	if !tx.Active() {
		return nil, ErrTransactionNotActive
	}
	node, ok := tx.gs.nodes[nodeID]
	if !ok {
		return nil, NodeNotFoundError("GetNode", nodeID)
	}
	return node.Clone(), nil
}

// Nodes lazily yields every node ordered by ID. Iterating after Close yields
// ErrTransactionNotActive.
func (tx *ReadTransaction) Nodes() iter.Seq2[*Node, error] {
	return func(yield func(*Node, error) bool) {
		if !tx.Active() {
			yield(nil, ErrTransactionNotActive)
			return
		}
		for _, id := range tx.gs.sortedNodeIDs() {
			if !tx.Active() {
				yield(nil, ErrTransactionNotActive)
				return
			}
			node, ok := tx.gs.nodes[id]
			if !ok {
				continue
			}
			if !yield(node.Clone(), nil) {
				return
			}
		}
	}
}

// NodesByLabel lazily yields nodes carrying the label, ordered by ID
func (tx *ReadTransaction) NodesByLabel(label string) iter.Seq2[*Node, error] {
	return func(yield func(*Node, error) bool) {
		if !tx.Active() {
			yield(nil, ErrTransactionNotActive)
			return
		}
		for _, node := range tx.gs.nodesWithLabel(label) {
			if !tx.Active() {
				yield(nil, ErrTransactionNotActive)
				return
			}
			if !yield(node, nil) {
				return
			}
		}
	}
}

// Edges lazily yields every edge ordered by ID
func (tx *ReadTransaction) Edges() iter.Seq2[*Edge, error] {
	return func(yield func(*Edge, error) bool) {
		if !tx.Active() {
			yield(nil, ErrTransactionNotActive)
			return
		}
		for _, id := range tx.gs.sortedEdgeIDs() {
			if !tx.Active() {
				yield(nil, ErrTransactionNotActive)
				return
			}
			edge, ok := tx.gs.edges[id]
			if !ok {
				continue
			}
			if !yield(edge.Clone(), nil) {
				return
			}
		}
	}
}
