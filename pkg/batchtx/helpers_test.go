package batchtx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-batchtx/pkg/logging"
	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

// commitSnapshot is what an observer saw during one simulated commit
type commitSnapshot struct {
	CommitID       string
	Mutations      int
	CreatedNodes   []uint64
	CreatedEdges   []uint64
	AssignedNodes  []PropertyEntry
	RemovedNodes   []PropertyEntry
	AssignedEdges  []PropertyEntry
	RemovedEdges   []PropertyEntry
	AssignedLabels map[uint64][]string
	RemovedLabels  map[uint64][]string
}

// recordingObserver records every commit and the before/after handoff
type recordingObserver struct {
	name   string
	order  *[]string
	failAt Phase
	err    error

	commits   []commitSnapshot
	afterSeen []any
}

func (o *recordingObserver) BeforeCommit(data TransactionData) (any, error) {
	if o.order != nil {
		*o.order = append(*o.order, o.name+":before")
	}
	if o.failAt == PhaseBeforeCommit {
		return nil, o.err
	}
	o.commits = append(o.commits, commitSnapshot{
		CommitID:       data.CommitID(),
		Mutations:      data.MutationCount(),
		CreatedNodes:   data.CreatedNodes(),
		CreatedEdges:   data.CreatedEdges(),
		AssignedNodes:  data.AssignedNodeProperties(),
		RemovedNodes:   data.RemovedNodeProperties(),
		AssignedEdges:  data.AssignedEdgeProperties(),
		RemovedEdges:   data.RemovedEdgeProperties(),
		AssignedLabels: data.AssignedNodeLabels(),
		RemovedLabels:  data.RemovedNodeLabels(),
	})
	return "state:" + data.CommitID(), nil
}

func (o *recordingObserver) AfterCommit(data TransactionData, state any) error {
	if o.order != nil {
		*o.order = append(*o.order, o.name+":after")
	}
	o.afterSeen = append(o.afterSeen, state)
	if o.failAt == PhaseAfterCommit {
		return o.err
	}
	return nil
}

func (o *recordingObserver) last(t *testing.T) commitSnapshot {
	t.Helper()
	require.NotEmpty(t, o.commits, "observer was never notified")
	return o.commits[len(o.commits)-1]
}

func testConfig(threshold int) Config {
	cfg := DefaultConfig()
	cfg.CommitThreshold = threshold
	return cfg
}

func newTestInserter(t *testing.T, threshold int, opts ...Option) (*BatchInserter, *storage.GraphStorage) {
	t.Helper()

	gs := storage.NewGraphStorage()
	t.Cleanup(func() { gs.Close() })

	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	ins, err := NewBatchInserter(gs, testConfig(threshold), opts...)
	require.NoError(t, err)
	return ins, gs
}

// preBatchNode creates a node directly in the store, invisible to the accumulator
func preBatchNode(t *testing.T, gs *storage.GraphStorage, labels []string, props map[string]storage.Value) uint64 {
	t.Helper()

	node, err := gs.CreateNode(labels, props)
	require.NoError(t, err)
	return node.ID
}

func assignment(id uint64, key string, value storage.Value) PropertyEntry {
	return PropertyEntry{Entity: EntityRef{Kind: KindNode, ID: id}, Key: key, Value: value}
}

func update(id uint64, key string, value, previous storage.Value) PropertyEntry {
	return PropertyEntry{Entity: EntityRef{Kind: KindNode, ID: id}, Key: key, Value: value, Previous: previous, HadPrevious: true}
}

func removal(kind EntityKind, id uint64, key string, previous storage.Value) PropertyEntry {
	return PropertyEntry{Entity: EntityRef{Kind: kind, ID: id}, Key: key, Previous: previous, HadPrevious: true}
}
