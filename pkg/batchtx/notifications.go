package batchtx

import (
	"fmt"

	"github.com/dd0wney/cluso-batchtx/pkg/logging"
	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

const (
	opCreate = "create"
	opSet    = "set"
	opRemove = "remove"
	opLabels = "labels"
)

// pendingOp is a preparing notification waiting for its completing call
type pendingOp struct {
	op    string
	kind  EntityKind
	id    uint64
	key   string
	value storage.Value

	// undo restores the diff entries touched by the preparing notification
	undo func()
}

func (p pendingOp) matches(other pendingOp) bool {
	return p.op == other.op && p.kind == other.kind && p.id == other.id &&
		p.key == other.key && p.value.Equal(other.value)
}

// EntityCreated records a newly created node or edge. Each initial property
// is recorded as an assignment with no previous value. When props is nil the
// properties are read back from the store. A created node's labels are
// recorded as assigned labels. Counts as one mutation.
func (a *Accumulator) EntityCreated(kind EntityKind, id uint64, props map[string]storage.Value) error {
	if a.closed {
		return ErrAccumulatorClosed
	}
	if a.committing.Load() {
		return nil
	}

	idx := kindIndex(kind)
	ref := EntityRef{Kind: kind, ID: id}
	a.created[idx][id] = struct{}{}

	if props == nil {
		props = make(map[string]storage.Value)
		for _, key := range a.store.PropertyKeys(kind, id) {
			if v, ok := a.store.GetProperty(kind, id, key); ok {
				props[key] = v
			}
		}
	}
	for key, value := range props {
		pk := propertyKey{id: id, key: key}
		delete(a.removed[idx], pk)
		a.assigned[idx][pk] = PropertyEntry{Entity: ref, Key: key, Value: value}
	}

	if kind == KindNode {
		for _, label := range a.store.NodeLabels(id) {
			a.addLabel(id, label)
		}
	}

	return a.countMutation(kind, opCreate)
}

// NodeCreated is EntityCreated for a node
func (a *Accumulator) NodeCreated(id uint64, props map[string]storage.Value) error {
	return a.EntityCreated(KindNode, id, props)
}

// EdgeCreated is EntityCreated for an edge
func (a *Accumulator) EdgeCreated(id uint64, props map[string]storage.Value) error {
	return a.EntityCreated(KindEdge, id, props)
}

// PropertyToBeSet must be called before the store write. It resolves the
// value the key had before the batch and records the assignment.
func (a *Accumulator) PropertyToBeSet(kind EntityKind, id uint64, key string, value storage.Value) {
	if a.closed || a.committing.Load() {
		return
	}

	idx := kindIndex(kind)
	pk := propertyKey{id: id, key: key}
	undo := a.propertyUndo(idx, pk)
	entry := PropertyEntry{Entity: EntityRef{Kind: kind, ID: id}, Key: key, Value: value}

	if removal, ok := a.removed[idx][pk]; ok {
		entry.Previous, entry.HadPrevious = removal.Previous, removal.HadPrevious
		delete(a.removed[idx], pk)
	} else if assignment, ok := a.assigned[idx][pk]; ok {
		entry.Previous, entry.HadPrevious = assignment.Previous, assignment.HadPrevious
	} else {
		entry.Previous, entry.HadPrevious = a.store.GetProperty(kind, id, key)
	}
	a.assigned[idx][pk] = entry

	a.prepare(pendingOp{op: opSet, kind: kind, id: id, key: key, value: value, undo: undo})
}

// PropertySet must be called after the store write with the same arguments
// as PropertyToBeSet. It counts the mutation and may trigger a simulated commit.
func (a *Accumulator) PropertySet(kind EntityKind, id uint64, key string, value storage.Value) error {
	return a.complete(pendingOp{op: opSet, kind: kind, id: id, key: key, value: value})
}

// PropertyToBeRemoved must be called before the store removes key
func (a *Accumulator) PropertyToBeRemoved(kind EntityKind, id uint64, key string) {
	if a.closed || a.committing.Load() {
		return
	}

	idx := kindIndex(kind)
	pk := propertyKey{id: id, key: key}
	a.prepare(pendingOp{op: opRemove, kind: kind, id: id, key: key, undo: a.propertyUndo(idx, pk)})

	ref := EntityRef{Kind: kind, ID: id}

	if _, ok := a.removed[idx][pk]; ok {
		return
	}
	if assignment, ok := a.assigned[idx][pk]; ok {
		delete(a.assigned[idx], pk)
		if assignment.HadPrevious {
			a.removed[idx][pk] = PropertyEntry{Entity: ref, Key: key, Previous: assignment.Previous, HadPrevious: true}
		}
		return
	}
	if previous, ok := a.store.GetProperty(kind, id, key); ok {
		a.removed[idx][pk] = PropertyEntry{Entity: ref, Key: key, Previous: previous, HadPrevious: true}
	}
}

// PropertyRemoved must be called after the store removed key
func (a *Accumulator) PropertyRemoved(kind EntityKind, id uint64, key string) error {
	return a.complete(pendingOp{op: opRemove, kind: kind, id: id, key: key})
}

// NodePropertyToBeSet is PropertyToBeSet for a node
func (a *Accumulator) NodePropertyToBeSet(id uint64, key string, value storage.Value) {
	a.PropertyToBeSet(KindNode, id, key, value)
}

// NodePropertySet is PropertySet for a node
func (a *Accumulator) NodePropertySet(id uint64, key string, value storage.Value) error {
	return a.PropertySet(KindNode, id, key, value)
}

// NodePropertyToBeRemoved is PropertyToBeRemoved for a node
func (a *Accumulator) NodePropertyToBeRemoved(id uint64, key string) {
	a.PropertyToBeRemoved(KindNode, id, key)
}

// NodePropertyRemoved is PropertyRemoved for a node
func (a *Accumulator) NodePropertyRemoved(id uint64, key string) error {
	return a.PropertyRemoved(KindNode, id, key)
}

// EdgePropertyToBeSet is PropertyToBeSet for an edge
func (a *Accumulator) EdgePropertyToBeSet(id uint64, key string, value storage.Value) {
	a.PropertyToBeSet(KindEdge, id, key, value)
}

// EdgePropertySet is PropertySet for an edge
func (a *Accumulator) EdgePropertySet(id uint64, key string, value storage.Value) error {
	return a.PropertySet(KindEdge, id, key, value)
}

// EdgePropertyToBeRemoved is PropertyToBeRemoved for an edge
func (a *Accumulator) EdgePropertyToBeRemoved(id uint64, key string) {
	a.PropertyToBeRemoved(KindEdge, id, key)
}

// EdgePropertyRemoved is PropertyRemoved for an edge
func (a *Accumulator) EdgePropertyRemoved(id uint64, key string) error {
	return a.PropertyRemoved(KindEdge, id, key)
}

func (a *Accumulator) prepare(op pendingOp) {
	if a.pending != nil {
		a.logger.Warn("preparing notification was never completed",
			logging.String("misuse", a.pending.op),
			logging.Entity(a.pending.kind.String(), a.pending.id),
			logging.Key(a.pending.key),
		)
	}
	a.pending = &op
}

// abort undoes the pending preparing notification after the store write it
// announced failed.
func (a *Accumulator) abort() {
	if a.pending == nil {
		return
	}
	if a.pending.undo != nil {
		a.pending.undo()
	}
	a.pending = nil
}

func (a *Accumulator) propertyUndo(idx int, pk propertyKey) func() {
	assigned, hadAssigned := a.assigned[idx][pk]
	removed, hadRemoved := a.removed[idx][pk]
	return func() {
		restoreEntry(a.assigned[idx], pk, assigned, hadAssigned)
		restoreEntry(a.removed[idx], pk, removed, hadRemoved)
	}
}

func restoreEntry(m map[propertyKey]PropertyEntry, pk propertyKey, entry PropertyEntry, present bool) {
	if present {
		m[pk] = entry
	} else {
		delete(m, pk)
	}
}

// complete pairs a completing notification with the pending preparing one
// and counts the mutation.
func (a *Accumulator) complete(op pendingOp) error {
	if a.closed {
		return ErrAccumulatorClosed
	}
	if a.committing.Load() {
		return nil
	}

	pending := a.pending
	a.pending = nil
	if pending == nil || !pending.matches(op) {
		if a.strict {
			return fmt.Errorf("%w: %s %s:%d %q", ErrUnpairedNotification, op.op, op.kind, op.id, op.key)
		}
		if a.metrics != nil {
			a.metrics.RecordUnpairedNotification()
		}
		a.logger.Warn("completing notification without matching preparing notification",
			logging.String("misuse", op.op),
			logging.Entity(op.kind.String(), op.id),
			logging.Key(op.key),
		)
	}

	return a.countMutation(op.kind, op.op)
}
