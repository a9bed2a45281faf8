package observers

import (
	"context"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/storage"
	"github.com/dd0wney/cluso-batchtx/pkg/txinput"
)

// LabelIndex maintains label -> node IDs from simulated commits. It is safe
// for concurrent readers.
type LabelIndex struct {
	mu     sync.RWMutex
	labels map[string]map[uint64]struct{}
}

// labelDelta is computed in BeforeCommit and applied in AfterCommit
type labelDelta struct {
	added   map[uint64][]string
	removed map[uint64][]string
}

// NewLabelIndex creates an empty index
func NewLabelIndex() *LabelIndex {
	return &LabelIndex{labels: make(map[string]map[uint64]struct{})}
}

// Seed loads the labels of every node already in gs using a single read scope
func (li *LabelIndex) Seed(ctx context.Context, gs *storage.GraphStorage, opts ...txinput.Option) (int, error) {
	in := txinput.Nodes(gs, "", opts...)

	li.mu.Lock()
	defer li.mu.Unlock()

	count := 0
	for node, err := range in.All(ctx) {
		if err != nil {
			return count, err
		}
		for _, label := range node.Labels {
			li.add(label, node.ID)
		}
		count++
	}
	return count, nil
}

// BeforeCommit computes the label count deltas of the commit
func (li *LabelIndex) BeforeCommit(data batchtx.TransactionData) (any, error) {
	return labelDelta{
		added:   data.AssignedNodeLabels(),
		removed: data.RemovedNodeLabels(),
	}, nil
}

// AfterCommit applies the deltas computed in BeforeCommit
func (li *LabelIndex) AfterCommit(_ batchtx.TransactionData, state any) error {
	delta, ok := state.(labelDelta)
	if !ok {
		return nil
	}

	li.mu.Lock()
	defer li.mu.Unlock()

	for id, labels := range delta.removed {
		for _, label := range labels {
			li.remove(label, id)
		}
	}
	for id, labels := range delta.added {
		for _, label := range labels {
			li.add(label, id)
		}
	}
	return nil
}

// Nodes returns the IDs of nodes carrying label, ascending
func (li *LabelIndex) Nodes(label string) []uint64 {
	li.mu.RLock()
	defer li.mu.RUnlock()

	set := li.labels[label]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of nodes carrying label
func (li *LabelIndex) Count(label string) int {
	li.mu.RLock()
	defer li.mu.RUnlock()
	return len(li.labels[label])
}

// Labels returns all indexed labels, sorted
func (li *LabelIndex) Labels() []string {
	li.mu.RLock()
	defer li.mu.RUnlock()

	out := make([]string, 0, len(li.labels))
	for label := range li.labels {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func (li *LabelIndex) add(label string, id uint64) {
	set, ok := li.labels[label]
	if !ok {
		set = make(map[uint64]struct{})
		li.labels[label] = set
	}
	set[id] = struct{}{}
}

func (li *LabelIndex) remove(label string, id uint64) {
	set, ok := li.labels[label]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(li.labels, label)
	}
}
