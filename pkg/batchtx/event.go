package batchtx

import (
	"time"

	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

// CommitEvent is a self-contained, serializable copy of one simulated commit
type CommitEvent struct {
	CommitID      string              `json:"commit_id"`
	Mutations     int                 `json:"mutations"`
	Timestamp     time.Time           `json:"timestamp"`
	CreatedNodes  []uint64            `json:"created_nodes,omitempty"`
	CreatedEdges  []uint64            `json:"created_edges,omitempty"`
	NodeChanges   []PropertyChange    `json:"node_changes,omitempty"`
	EdgeChanges   []PropertyChange    `json:"edge_changes,omitempty"`
	AddedLabels   map[uint64][]string `json:"added_labels,omitempty"`
	RemovedLabels map[uint64][]string `json:"removed_labels,omitempty"`
}

// PropertyChange is one assignment or removal in a CommitEvent
type PropertyChange struct {
	ID       uint64         `json:"id"`
	Key      string         `json:"key"`
	Removed  bool           `json:"removed,omitempty"`
	Value    *storage.Value `json:"value,omitempty"`
	Previous *storage.Value `json:"previous,omitempty"`
}

// NewCommitEvent copies the diff visible through data
func NewCommitEvent(data TransactionData) CommitEvent {
	ev := CommitEvent{
		CommitID:     data.CommitID(),
		Mutations:    data.MutationCount(),
		Timestamp:    time.Now().UTC(),
		CreatedNodes: data.CreatedNodes(),
		CreatedEdges: data.CreatedEdges(),
		NodeChanges:  changes(data.AssignedNodeProperties(), data.RemovedNodeProperties()),
		EdgeChanges:  changes(data.AssignedEdgeProperties(), data.RemovedEdgeProperties()),
	}
	if added := data.AssignedNodeLabels(); len(added) > 0 {
		ev.AddedLabels = added
	}
	if removed := data.RemovedNodeLabels(); len(removed) > 0 {
		ev.RemovedLabels = removed
	}
	return ev
}

// Labels returns every label added or removed in the commit, without duplicates
func (e CommitEvent) Labels() []string {
	seen := make(labelSet)
	for _, labels := range e.AddedLabels {
		for _, l := range labels {
			seen[l] = struct{}{}
		}
	}
	for _, labels := range e.RemovedLabels {
		for _, l := range labels {
			seen[l] = struct{}{}
		}
	}
	return seen.sorted()
}

// Empty reports whether the event carries no change
func (e CommitEvent) Empty() bool {
	return len(e.CreatedNodes) == 0 && len(e.CreatedEdges) == 0 &&
		len(e.NodeChanges) == 0 && len(e.EdgeChanges) == 0 &&
		len(e.AddedLabels) == 0 && len(e.RemovedLabels) == 0
}

func changes(assigned, removed []PropertyEntry) []PropertyChange {
	if len(assigned)+len(removed) == 0 {
		return nil
	}
	out := make([]PropertyChange, 0, len(assigned)+len(removed))
	for _, e := range assigned {
		c := PropertyChange{ID: e.Entity.ID, Key: e.Key, Value: &e.Value}
		if e.HadPrevious {
			c.Previous = &e.Previous
		}
		out = append(out, c)
	}
	for _, e := range removed {
		out = append(out, PropertyChange{ID: e.Entity.ID, Key: e.Key, Removed: true, Previous: &e.Previous})
	}
	return out
}
