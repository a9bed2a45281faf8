package batchtx

import (
	"sort"

	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

var _ TransactionData = (*Accumulator)(nil)

// CommitID is empty outside of a simulated commit
func (a *Accumulator) CommitID() string {
	return a.commitID
}

// MutationCount returns the completed mutations in the current batch
func (a *Accumulator) MutationCount() int {
	return a.mutations
}

// Created returns the IDs of entities of kind created in this batch
func (a *Accumulator) Created(kind EntityKind) []uint64 {
	set := a.created[kindIndex(kind)]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AssignedProperties returns the net property assignments of kind
func (a *Accumulator) AssignedProperties(kind EntityKind) []PropertyEntry {
	return sortedEntries(a.assigned[kindIndex(kind)])
}

// RemovedProperties returns the net removals of keys that existed before the batch
func (a *Accumulator) RemovedProperties(kind EntityKind) []PropertyEntry {
	return sortedEntries(a.removed[kindIndex(kind)])
}

// CreatedNodes and the accessors below are the per-kind forms of the views above
func (a *Accumulator) CreatedNodes() []uint64 { return a.Created(KindNode) }
func (a *Accumulator) CreatedEdges() []uint64 { return a.Created(KindEdge) }

func (a *Accumulator) AssignedNodeProperties() []PropertyEntry { return a.AssignedProperties(KindNode) }
func (a *Accumulator) RemovedNodeProperties() []PropertyEntry  { return a.RemovedProperties(KindNode) }
func (a *Accumulator) AssignedEdgeProperties() []PropertyEntry { return a.AssignedProperties(KindEdge) }
func (a *Accumulator) RemovedEdgeProperties() []PropertyEntry  { return a.RemovedProperties(KindEdge) }

// AssignedNodeLabels returns the labels added per node
func (a *Accumulator) AssignedNodeLabels() map[uint64][]string {
	return labelSnapshot(a.assignedLabels)
}

// RemovedNodeLabels returns the labels removed per node
func (a *Accumulator) RemovedNodeLabels() map[uint64][]string {
	return labelSnapshot(a.removedLabels)
}

// DeletedNodes is always empty: batch loads never delete
func (a *Accumulator) DeletedNodes() []uint64 { return nil }
func (a *Accumulator) DeletedEdges() []uint64 { return nil }

// IsDeleted is always false
func (a *Accumulator) IsDeleted(EntityRef) bool { return false }

// AssignedProperty looks up the pending assignment for one key
func (a *Accumulator) AssignedProperty(kind EntityKind, id uint64, key string) (PropertyEntry, bool) {
	e, ok := a.assigned[kindIndex(kind)][propertyKey{id: id, key: key}]
	return e, ok
}

// RemovedProperty looks up the pending removal for one key
func (a *Accumulator) RemovedProperty(kind EntityKind, id uint64, key string) (PropertyEntry, bool) {
	e, ok := a.removed[kindIndex(kind)][propertyKey{id: id, key: key}]
	return e, ok
}

func sortedEntries(m map[propertyKey]PropertyEntry) []PropertyEntry {
	out := make([]PropertyEntry, 0, len(m))
	for _, e := range m {
		e.Value = cloneValue(e.Value)
		e.Previous = cloneValue(e.Previous)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity.ID != out[j].Entity.ID {
			return out[i].Entity.ID < out[j].Entity.ID
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func labelSnapshot(m map[uint64]labelSet) map[uint64][]string {
	out := make(map[uint64][]string, len(m))
	for id, s := range m {
		out[id] = s.sorted()
	}
	return out
}

func cloneValue(v storage.Value) storage.Value {
	if v.Data == nil {
		return v
	}
	data := make([]byte, len(v.Data))
	copy(data, v.Data)
	return storage.Value{Type: v.Type, Data: data}
}
