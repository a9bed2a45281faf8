package batchtx

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

func TestBatchInserter_Validation(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()

	_, err := ins.CreateNode([]string{"bad label"}, nil)
	assert.Error(t, err)
	_, err = ins.CreateNode(nil, map[string]storage.Value{"1key": storage.IntValue(1)})
	assert.Error(t, err)

	id, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	assert.Error(t, ins.SetNodeProperty(id, "", storage.IntValue(1)))
	assert.Error(t, ins.AddNodeLabel(id, ""))
	_, err = ins.CreateEdge(id, id, "has-dash", nil, 1)
	assert.Error(t, err)

	assert.Equal(t, 1, acc.Pending(), "rejected writes are not tracked")
}

func TestBatchInserter_MissingEntities(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()

	assert.True(t, storage.IsNotFound(ins.SetNodeProperty(7, "x", storage.IntValue(1))))
	assert.True(t, storage.IsNotFound(ins.RemoveEdgeProperty(7, "x")))
	assert.True(t, storage.IsNotFound(ins.SetNodeLabels(7, []string{"A"})))
	assert.True(t, storage.IsNotFound(ins.RemoveNodeLabel(7, "A")))
	_, err := ins.CreateEdge(1, 2, "KNOWS", nil, 1)
	assert.True(t, storage.IsNotFound(err))

	assert.Zero(t, acc.Pending())
	assert.Empty(t, acc.AssignedNodeProperties())
	assert.Empty(t, acc.AssignedNodeLabels())
}

func TestBatchInserter_AddRemoveLabel(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	id := preBatchNode(t, gs, []string{"Person"}, nil)

	require.NoError(t, ins.AddNodeLabel(id, "Admin"))
	require.NoError(t, ins.AddNodeLabel(id, "Admin"))
	require.NoError(t, ins.RemoveNodeLabel(id, "Person"))
	require.NoError(t, ins.RemoveNodeLabel(id, "Ghost"))

	assert.ElementsMatch(t, []string{"Admin"}, gs.NodeLabels(id))
	assert.Equal(t, map[uint64][]string{id: {"Admin"}}, acc.AssignedNodeLabels())
	assert.Equal(t, map[uint64][]string{id: {"Person"}}, acc.RemovedNodeLabels())
	assert.Equal(t, 2, acc.Pending(), "no-op label changes are not mutations")

	// adding the removed label back cancels the removal
	require.NoError(t, ins.AddNodeLabel(id, "Person"))
	assert.Empty(t, acc.RemovedNodeLabels())
}

func TestBatchInserter_LabelCancellation(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	id := preBatchNode(t, gs, []string{"A", "B"}, nil)

	require.NoError(t, ins.SetNodeLabels(id, []string{"B", "C"}))
	assert.Equal(t, map[uint64][]string{id: {"C"}}, acc.AssignedNodeLabels())
	assert.Equal(t, map[uint64][]string{id: {"A"}}, acc.RemovedNodeLabels())

	require.NoError(t, ins.SetNodeLabels(id, []string{"A", "B"}))
	assert.Empty(t, acc.AssignedNodeLabels())
	assert.Empty(t, acc.RemovedNodeLabels())
}

func TestBatchInserter_ConcurrentProducers(t *testing.T) {
	ins, gs := newTestInserter(t, 25)
	obs := &recordingObserver{}
	ins.RegisterObserver(obs)

	root := preBatchNode(t, gs, nil, nil)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := ins.CreateNode([]string{"Item"}, nil)
				if err != nil {
					t.Errorf("CreateNode failed: %v", err)
					return
				}
				if _, err := ins.CreateEdge(root, id, "CONTAINS", nil, 1); err != nil {
					t.Errorf("CreateEdge failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, ins.Shutdown())

	nodes, edges := 0, 0
	for _, c := range obs.commits {
		nodes += len(c.CreatedNodes)
		edges += len(c.CreatedEdges)
	}
	assert.Equal(t, 200, nodes)
	assert.Equal(t, 200, edges)
}

func TestBatchInserter_Flush(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	obs := &recordingObserver{}
	ins.RegisterObserver(obs)

	a, err := ins.CreateNode([]string{"Person"}, nil)
	require.NoError(t, err)
	require.NoError(t, ins.Flush())
	require.Len(t, obs.commits, 1)
	assert.Equal(t, []uint64{a}, obs.commits[0].CreatedNodes)
	assert.Equal(t, 0, ins.Accumulator().Pending())

	require.NoError(t, ins.Flush())
	assert.Len(t, obs.commits, 1, "empty flush notifies nobody")

	b, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	require.NoError(t, ins.Shutdown())
	require.Len(t, obs.commits, 2)
	assert.Equal(t, []uint64{b}, obs.commits[1].CreatedNodes)
}

func TestBatchInserter_FailedWriteLeavesDiffUnchanged(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	id := preBatchNode(t, gs, []string{"Person"}, map[string]storage.Value{
		"name": storage.StringValue("ada"),
		"age":  storage.IntValue(36),
	})

	require.NoError(t, ins.SetNodeProperty(id, "name", storage.StringValue("grace")))
	require.NoError(t, ins.AddNodeLabel(id, "Admin"))
	require.Equal(t, 2, acc.Pending())

	require.NoError(t, gs.Close())

	assert.ErrorIs(t, ins.SetNodeProperty(id, "name", storage.StringValue("lovelace")), storage.ErrStorageClosed)
	assert.ErrorIs(t, ins.SetNodeProperty(id, "ghost", storage.IntValue(1)), storage.ErrStorageClosed)
	assert.ErrorIs(t, ins.RemoveNodeProperty(id, "age"), storage.ErrStorageClosed)
	assert.ErrorIs(t, ins.SetNodeLabels(id, []string{"Robot"}), storage.ErrStorageClosed)

	assert.Equal(t, 2, acc.Pending())
	assert.Equal(t, []PropertyEntry{
		update(id, "name", storage.StringValue("grace"), storage.StringValue("ada")),
	}, acc.AssignedNodeProperties())
	_, ghost := acc.AssignedProperty(KindNode, id, "ghost")
	assert.False(t, ghost)
	assert.Empty(t, acc.RemovedNodeProperties())
	assert.Equal(t, map[uint64][]string{id: {"Admin"}}, acc.AssignedNodeLabels())
	assert.Empty(t, acc.RemovedNodeLabels())
	assert.Nil(t, acc.pending, "the failed write's preparing notification is dropped")
}

// finishes fails the test if fn does not return within two seconds
func finishes(t *testing.T, fn func() error) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return")
	}
}

func TestBatchInserter_ObserverWritesThroughInserter(t *testing.T) {
	ins, gs := newTestInserter(t, 1)
	acc := ins.Accumulator()

	ins.RegisterObserver(&ObserverFuncs{
		Before: func(data TransactionData) (any, error) {
			for _, id := range data.CreatedNodes() {
				if err := ins.SetNodeProperty(id, "indexed", storage.BoolValue(true)); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
	})
	recorder := &recordingObserver{}
	ins.RegisterObserver(recorder)

	var a, b uint64
	finishes(t, func() error {
		var err error
		if a, err = ins.CreateNode(nil, nil); err != nil {
			return err
		}
		b, err = ins.CreateNode(nil, nil)
		return err
	})

	require.Len(t, recorder.commits, 2)
	assert.Equal(t, []uint64{a, b}, recorder.commits[0].CreatedNodes)
	assert.Empty(t, recorder.commits[0].AssignedNodes)
	assert.Empty(t, recorder.commits[1].CreatedNodes)
	assert.Equal(t, []PropertyEntry{
		assignment(a, "indexed", storage.BoolValue(true)),
		assignment(b, "indexed", storage.BoolValue(true)),
	}, recorder.commits[1].AssignedNodes, "observer writes are committed with the next batch")

	v, ok := gs.GetProperty(KindNode, b, "indexed")
	require.True(t, ok)
	assert.True(t, v.Equal(storage.BoolValue(true)))
	assert.Zero(t, acc.Pending())
	assert.Equal(t, uint64(2), acc.Commits())
}

func TestBatchInserter_ObserverWritesDuringShutdown(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()

	calls := 0
	ins.RegisterObserver(&ObserverFuncs{
		Before: func(TransactionData) (any, error) {
			calls++
			_, err := ins.CreateNode([]string{"Audit"}, nil)
			return nil, err
		},
	})

	_, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	finishes(t, ins.Shutdown)

	assert.Equal(t, 1, calls, "writes made by the final commit are not tracked")
	assert.Equal(t, uint64(2), gs.GetStatistics().NodeCount)
	assert.Zero(t, acc.Pending())
	assert.Equal(t, uint64(1), acc.Commits())
}
