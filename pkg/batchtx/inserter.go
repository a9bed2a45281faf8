package batchtx

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-batchtx/pkg/logging"
	"github.com/dd0wney/cluso-batchtx/pkg/storage"
	"github.com/dd0wney/cluso-batchtx/pkg/validation"
)

// BatchInserter writes directly to a GraphStorage outside of any transaction
// and reports every write to an Accumulator. Each write holds one lock around
// the notification pair and the store write, so it may be shared by
// concurrent producers.
//
// A write that exceeds the commit threshold detaches the batch and commits it
// after releasing the write lock. Batches are committed one at a time in the
// order they filled up, so observers may write through the inserter: those
// writes belong to the next batch. During the final commit in Shutdown writes
// go straight to the store and are not tracked.
type BatchInserter struct {
	mu     sync.Mutex
	store  *storage.GraphStorage
	acc    *Accumulator
	logger logging.Logger

	// full batches waiting for commitMu, guarded by mu
	queue    []*Accumulator
	commitMu sync.Mutex
	closing  atomic.Bool
}

// NewBatchInserter creates an inserter with its own accumulator
func NewBatchInserter(store *storage.GraphStorage, cfg Config, opts ...Option) (*BatchInserter, error) {
	if store == nil {
		return nil, fmt.Errorf("batchtx: storage is required")
	}
	acc, err := New(store, cfg, opts...)
	if err != nil {
		return nil, err
	}
	acc.deferCommits = true

	return &BatchInserter{
		store:  store,
		acc:    acc,
		logger: acc.logger.With(logging.Component("batch_inserter")),
	}, nil
}

// Accumulator returns the accumulator tracking this inserter's writes
func (b *BatchInserter) Accumulator() *Accumulator {
	return b.acc
}

// RegisterObserver registers an observer on the underlying accumulator
func (b *BatchInserter) RegisterObserver(observer Observer) Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acc.RegisterObserver(observer)
}

// CreateNode creates a node and records it with its properties and labels
func (b *BatchInserter) CreateNode(labels []string, props map[string]storage.Value) (uint64, error) {
	if err := validation.ValidateLabels(labels); err != nil {
		return 0, err
	}
	if err := validateKeys(props); err != nil {
		return 0, err
	}

	var id uint64
	err := b.write(func(tracked bool) error {
		node, err := b.store.CreateNode(labels, props)
		if err != nil {
			return err
		}
		id = node.ID
		if !tracked {
			return nil
		}
		return b.acc.NodeCreated(node.ID, node.Properties)
	})
	return id, err
}

// CreateEdge creates an edge and records it with its properties
func (b *BatchInserter) CreateEdge(fromID, toID uint64, edgeType string, props map[string]storage.Value, weight float64) (uint64, error) {
	if err := validation.ValidateLabel(edgeType); err != nil {
		return 0, fmt.Errorf("edge type: %w", err)
	}
	if err := validateKeys(props); err != nil {
		return 0, err
	}

	var id uint64
	err := b.write(func(tracked bool) error {
		edge, err := b.store.CreateEdge(fromID, toID, edgeType, props, weight)
		if err != nil {
			return err
		}
		id = edge.ID
		if !tracked {
			return nil
		}
		return b.acc.EdgeCreated(edge.ID, edge.Properties)
	})
	return id, err
}

// SetNodeProperty assigns one property of a node
func (b *BatchInserter) SetNodeProperty(id uint64, key string, value storage.Value) error {
	return b.setProperty(KindNode, id, key, value)
}

// SetEdgeProperty assigns one property of an edge
func (b *BatchInserter) SetEdgeProperty(id uint64, key string, value storage.Value) error {
	return b.setProperty(KindEdge, id, key, value)
}

// RemoveNodeProperty removes one property of a node
func (b *BatchInserter) RemoveNodeProperty(id uint64, key string) error {
	return b.removeProperty(KindNode, id, key)
}

// RemoveEdgeProperty removes one property of an edge
func (b *BatchInserter) RemoveEdgeProperty(id uint64, key string) error {
	return b.removeProperty(KindEdge, id, key)
}

// SetNodeLabels replaces the labels of a node
func (b *BatchInserter) SetNodeLabels(id uint64, labels []string) error {
	if err := validation.ValidateLabels(labels); err != nil {
		return err
	}

	return b.write(func(tracked bool) error {
		return b.setLabels(tracked, id, labels)
	})
}

// AddNodeLabel adds one label to a node. Adding a label the node already has is a no-op.
func (b *BatchInserter) AddNodeLabel(id uint64, label string) error {
	if err := validation.ValidateLabel(label); err != nil {
		return err
	}

	return b.write(func(tracked bool) error {
		if !b.store.HasNode(id) {
			return storage.NodeNotFoundError("AddNodeLabel", id)
		}
		current := b.store.NodeLabels(id)
		if slices.Contains(current, label) {
			return nil
		}
		return b.setLabels(tracked, id, append(current, label))
	})
}

// RemoveNodeLabel removes one label from a node. Removing a missing label is a no-op.
func (b *BatchInserter) RemoveNodeLabel(id uint64, label string) error {
	return b.write(func(tracked bool) error {
		if !b.store.HasNode(id) {
			return storage.NodeNotFoundError("RemoveNodeLabel", id)
		}
		current := b.store.NodeLabels(id)
		if !slices.Contains(current, label) {
			return nil
		}
		return b.setLabels(tracked, id, slices.DeleteFunc(current, func(l string) bool { return l == label }))
	})
}

// Flush simulates a commit of everything accumulated so far and waits for
// earlier batches to be committed. It must not be called from an observer.
func (b *BatchInserter) Flush() error {
	b.mu.Lock()
	if b.acc.isEmpty() {
		// records the empty commit
		err := b.acc.SimulateCommit()
		b.mu.Unlock()
		if err != nil {
			return err
		}
	} else {
		b.queue = append(b.queue, b.acc.detach())
		b.mu.Unlock()
	}

	b.commitMu.Lock()
	defer b.commitMu.Unlock()
	return b.commitQueue()
}

// Shutdown commits every queued batch and simulates the final commit. The
// storage stays open. It must not be called from an observer.
func (b *BatchInserter) Shutdown() error {
	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	b.mu.Lock()
	b.closing.Store(true)
	final := !b.acc.closed && !b.acc.isEmpty()
	var err error
	if final {
		b.queue = append(b.queue, b.acc.detach())
		b.acc.closed = true
	} else {
		err = b.acc.Close()
	}
	b.mu.Unlock()

	if qerr := b.commitQueue(); err == nil {
		err = qerr
	}
	b.closing.Store(false)

	b.logger.Info("batch inserter shut down",
		logging.Uint64("commits", b.acc.Commits()),
		logging.Bool("failed", err != nil),
	)
	return err
}

// write runs fn under the write lock and commits any batch it filled up.
// fn learns whether the write is tracked by the accumulator.
func (b *BatchInserter) write(fn func(tracked bool) error) error {
	if b.closing.Load() {
		return fn(false)
	}

	b.mu.Lock()
	err := fn(true)
	if b.acc.due() {
		b.queue = append(b.queue, b.acc.detach())
	}
	b.mu.Unlock()

	if cerr := b.tryCommitQueue(); err == nil {
		err = cerr
	}
	return err
}

// tryCommitQueue commits queued batches unless another goroutine is already
// doing so, in which case that goroutine picks them up.
func (b *BatchInserter) tryCommitQueue() error {
	var err error
	for b.queued() && b.commitMu.TryLock() {
		if cerr := b.commitQueue(); err == nil {
			err = cerr
		}
		b.commitMu.Unlock()
	}
	return err
}

// commitQueue assumes the caller holds commitMu. It returns the first
// observer failure.
func (b *BatchInserter) commitQueue() error {
	var first error
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return first
		}
		batch := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		err := batch.SimulateCommit()
		b.acc.commits.Add(batch.Commits())
		if err != nil && first == nil {
			first = err
		}
	}
}

func (b *BatchInserter) queued() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) > 0
}

// apply wraps write in its notification pair when tracked. A failed write
// undoes the preparing notification.
func (b *BatchInserter) apply(tracked bool, prepare func(), write, complete func() error) error {
	if !tracked {
		return write()
	}
	prepare()
	if err := write(); err != nil {
		b.acc.abort()
		return err
	}
	return complete()
}

func (b *BatchInserter) setProperty(kind EntityKind, id uint64, key string, value storage.Value) error {
	if err := validation.ValidatePropertyKey(key); err != nil {
		return err
	}

	return b.write(func(tracked bool) error {
		if err := b.checkExists(kind, id, "SetProperty"); err != nil {
			return err
		}
		return b.apply(tracked,
			func() { b.acc.PropertyToBeSet(kind, id, key, value) },
			func() error {
				if kind == KindNode {
					return b.store.SetNodeProperty(id, key, value)
				}
				return b.store.SetEdgeProperty(id, key, value)
			},
			func() error { return b.acc.PropertySet(kind, id, key, value) },
		)
	})
}

func (b *BatchInserter) removeProperty(kind EntityKind, id uint64, key string) error {
	if err := validation.ValidatePropertyKey(key); err != nil {
		return err
	}

	return b.write(func(tracked bool) error {
		if err := b.checkExists(kind, id, "RemoveProperty"); err != nil {
			return err
		}
		return b.apply(tracked,
			func() { b.acc.PropertyToBeRemoved(kind, id, key) },
			func() error {
				if kind == KindNode {
					return b.store.RemoveNodeProperty(id, key)
				}
				return b.store.RemoveEdgeProperty(id, key)
			},
			func() error { return b.acc.PropertyRemoved(kind, id, key) },
		)
	})
}

func (b *BatchInserter) setLabels(tracked bool, id uint64, labels []string) error {
	if !b.store.HasNode(id) {
		return storage.NodeNotFoundError("SetNodeLabels", id)
	}

	return b.apply(tracked,
		func() { b.acc.NodeLabelsToBeSet(id, labels) },
		func() error { return b.store.SetNodeLabels(id, labels) },
		func() error { return b.acc.NodeLabelsSet(id, labels) },
	)
}

func (b *BatchInserter) checkExists(kind EntityKind, id uint64, op string) error {
	switch kind {
	case KindNode:
		if !b.store.HasNode(id) {
			return storage.NodeNotFoundError(op, id)
		}
	case KindEdge:
		if !b.store.HasEdge(id) {
			return storage.EdgeNotFoundError(op, id)
		}
	default:
		return fmt.Errorf("batchtx: unknown entity kind %d", kind)
	}
	return nil
}

func validateKeys(props map[string]storage.Value) error {
	for key := range props {
		if err := validation.ValidatePropertyKey(key); err != nil {
			return err
		}
	}
	return nil
}
