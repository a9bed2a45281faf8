package batchtx

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-batchtx/pkg/logging"
	"github.com/dd0wney/cluso-batchtx/pkg/metrics"
	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

func TestNew_Validation(t *testing.T) {
	gs := storage.NewGraphStorage()

	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	_, err = New(gs, testConfig(0))
	assert.Error(t, err)

	acc, err := New(gs, DefaultConfig(), WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	assert.Equal(t, DefaultCommitThreshold, acc.Threshold())
	assert.Zero(t, acc.Pending())
}

func TestThresholdScenario(t *testing.T) {
	ins, _ := newTestInserter(t, 2)
	acc := ins.Accumulator()
	obs := &recordingObserver{}
	ins.RegisterObserver(obs)

	a, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.Pending())

	require.NoError(t, ins.SetNodeProperty(a, "name", storage.StringValue("x")))
	assert.Equal(t, 2, acc.Pending())
	assert.Empty(t, obs.commits, "no flush before the threshold is exceeded")

	require.NoError(t, ins.SetNodeProperty(a, "age", storage.IntValue(5)))
	require.Len(t, obs.commits, 1)

	seen := obs.last(t)
	assert.Equal(t, 3, seen.Mutations)
	assert.Equal(t, []uint64{a}, seen.CreatedNodes)
	assert.Equal(t, []PropertyEntry{
		assignment(a, "age", storage.IntValue(5)),
		assignment(a, "name", storage.StringValue("x")),
	}, seen.AssignedNodes)
	assert.Empty(t, seen.RemovedNodes)

	assert.Zero(t, acc.Pending())
	assert.Empty(t, acc.CreatedNodes())
	assert.Empty(t, acc.AssignedNodeProperties())
	assert.Equal(t, uint64(1), acc.Commits())
}

func TestColorScenario(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	obs := &recordingObserver{}
	ins.RegisterObserver(obs)

	id := preBatchNode(t, gs, nil, map[string]storage.Value{"color": storage.StringValue("red")})

	require.NoError(t, ins.SetNodeProperty(id, "color", storage.StringValue("blue")))
	require.NoError(t, ins.RemoveNodeProperty(id, "color"))

	_, ok := acc.AssignedProperty(KindNode, id, "color")
	assert.False(t, ok)

	require.NoError(t, ins.Shutdown())
	seen := obs.last(t)
	assert.Empty(t, seen.AssignedNodes)
	assert.Equal(t, []PropertyEntry{removal(KindNode, id, "color", storage.StringValue("red"))}, seen.RemovedNodes)
}

func TestNetZeroCancellation(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	obs := &recordingObserver{}
	ins.RegisterObserver(obs)

	id := preBatchNode(t, gs, nil, nil)
	require.NoError(t, ins.SetNodeProperty(id, "temp", storage.IntValue(1)))
	require.NoError(t, ins.SetNodeProperty(id, "temp", storage.IntValue(2)))
	require.NoError(t, ins.RemoveNodeProperty(id, "temp"))

	assert.Empty(t, acc.AssignedNodeProperties())
	assert.Empty(t, acc.RemovedNodeProperties())
	assert.Equal(t, 3, acc.Pending())

	require.NoError(t, acc.SimulateCommit())
	assert.Empty(t, obs.commits, "observers are not called for an empty diff")
	assert.Zero(t, acc.Pending())
}

func TestPreviousValueFidelity(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	id := preBatchNode(t, gs, nil, map[string]storage.Value{"color": storage.StringValue("red")})

	require.NoError(t, ins.SetNodeProperty(id, "color", storage.StringValue("blue")))
	require.NoError(t, ins.SetNodeProperty(id, "color", storage.StringValue("green")))

	entry, ok := acc.AssignedProperty(KindNode, id, "color")
	require.True(t, ok)
	assert.Equal(t, update(id, "color", storage.StringValue("green"), storage.StringValue("red")), entry)

	// remove then set again: the removal is folded back into an assignment
	require.NoError(t, ins.RemoveNodeProperty(id, "color"))
	require.NoError(t, ins.SetNodeProperty(id, "color", storage.StringValue("black")))

	entry, ok = acc.AssignedProperty(KindNode, id, "color")
	require.True(t, ok)
	assert.Equal(t, storage.StringValue("red"), entry.Previous)
	_, ok = acc.RemovedProperty(KindNode, id, "color")
	assert.False(t, ok)
}

func TestRepeatedRemovalIsNoOp(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	id := preBatchNode(t, gs, nil, map[string]storage.Value{"color": storage.StringValue("red")})

	require.NoError(t, ins.RemoveNodeProperty(id, "color"))
	require.NoError(t, ins.RemoveNodeProperty(id, "color"))

	assert.Equal(t, []PropertyEntry{removal(KindNode, id, "color", storage.StringValue("red"))}, acc.RemovedNodeProperties())
	assert.Equal(t, 2, acc.Pending())
}

func TestRemovingAbsentKeyRecordsNothing(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	id := preBatchNode(t, gs, nil, nil)

	require.NoError(t, ins.RemoveNodeProperty(id, "missing"))
	assert.Empty(t, acc.RemovedNodeProperties())
	assert.Equal(t, 1, acc.Pending())
}

func TestCreateWithProperties(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()

	id, err := ins.CreateNode([]string{"User"}, map[string]storage.Value{"name": storage.StringValue("alice")})
	require.NoError(t, err)

	// overwriting a property set at creation still reports no previous value
	require.NoError(t, ins.SetNodeProperty(id, "name", storage.StringValue("bob")))

	assert.Equal(t, []PropertyEntry{assignment(id, "name", storage.StringValue("bob"))}, acc.AssignedNodeProperties())
	assert.Equal(t, map[uint64][]string{id: {"User"}}, acc.AssignedNodeLabels())
	assert.Equal(t, 2, acc.Pending())
}

func TestEntityCreated_ReadsPropertiesFromStore(t *testing.T) {
	gs := storage.NewGraphStorage()
	acc, err := New(gs, DefaultConfig(), WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	id := preBatchNode(t, gs, nil, map[string]storage.Value{"a": storage.IntValue(1), "b": storage.IntValue(2)})
	require.NoError(t, acc.NodeCreated(id, nil))

	assert.Equal(t, []PropertyEntry{
		assignment(id, "a", storage.IntValue(1)),
		assignment(id, "b", storage.IntValue(2)),
	}, acc.AssignedNodeProperties())
}

func TestEdgeTracking(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	obs := &recordingObserver{}
	ins.RegisterObserver(obs)

	a := preBatchNode(t, gs, nil, nil)
	b := preBatchNode(t, gs, nil, nil)
	old, err := gs.CreateEdge(a, b, "KNOWS", map[string]storage.Value{"since": storage.IntValue(2019)}, 1)
	require.NoError(t, err)

	e, err := ins.CreateEdge(a, b, "LIKES", map[string]storage.Value{"w": storage.FloatValue(0.5)}, 1)
	require.NoError(t, err)
	require.NoError(t, ins.RemoveEdgeProperty(old.ID, "since"))
	require.NoError(t, ins.SetEdgeProperty(old.ID, "strength", storage.IntValue(3)))

	assert.Equal(t, []uint64{e}, acc.CreatedEdges())
	assert.Empty(t, acc.CreatedNodes())

	require.NoError(t, ins.Shutdown())
	seen := obs.last(t)
	assert.Equal(t, []uint64{e}, seen.CreatedEdges)
	assert.Equal(t, []PropertyEntry{removal(KindEdge, old.ID, "since", storage.IntValue(2019))}, seen.RemovedEdges)
	require.Len(t, seen.AssignedEdges, 2)
	assert.Equal(t, "strength", seen.AssignedEdges[0].Key)
	assert.Equal(t, old.ID, seen.AssignedEdges[0].Entity.ID)
	assert.Equal(t, e, seen.AssignedEdges[1].Entity.ID)
}

func TestDeletionsAreNeverReported(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()
	id, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)

	assert.Empty(t, acc.DeletedNodes())
	assert.Empty(t, acc.DeletedEdges())
	assert.False(t, acc.IsDeleted(EntityRef{Kind: KindNode, ID: id}))
}

func TestViewReturnsCopies(t *testing.T) {
	ins, gs := newTestInserter(t, 100)
	acc := ins.Accumulator()
	id := preBatchNode(t, gs, []string{"A"}, nil)
	require.NoError(t, ins.SetNodeProperty(id, "blob", storage.BytesValue([]byte{1, 2, 3})))
	require.NoError(t, ins.SetNodeLabels(id, []string{"A", "B"}))

	entries := acc.AssignedNodeProperties()
	entries[0].Value.Data[0] = 9
	labels := acc.AssignedNodeLabels()
	labels[id][0] = "Z"

	entry, _ := acc.AssignedProperty(KindNode, id, "blob")
	assert.Equal(t, byte(1), entry.Value.Data[0])
	assert.Equal(t, []string{"B"}, acc.AssignedNodeLabels()[id])
}

func TestRegisterObserver_Idempotent(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()
	obs := &recordingObserver{}

	ins.RegisterObserver(obs)
	ins.RegisterObserver(obs)
	assert.Len(t, acc.Observers(), 1)

	_, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	require.NoError(t, acc.SimulateCommit())
	assert.Len(t, obs.commits, 1)
}

// countingObserver has a non-comparable dynamic type
type countingObserver map[string]int

func (c countingObserver) BeforeCommit(TransactionData) (any, error) {
	c["before"]++
	return nil, nil
}

func (c countingObserver) AfterCommit(TransactionData, any) error {
	c["after"]++
	return nil
}

func TestRegisterObserver_NonComparable(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()
	obs := countingObserver{}

	ins.RegisterObserver(obs)
	ins.RegisterObserver(obs)
	assert.Len(t, acc.Observers(), 2)

	_, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	require.NoError(t, acc.SimulateCommit())
	assert.Equal(t, 2, obs["before"])
	assert.Equal(t, 2, obs["after"])
}

// observerWrapper has a comparable type but may hold a non-comparable value
type observerWrapper struct {
	inner Observer
}

func (w observerWrapper) BeforeCommit(data TransactionData) (any, error) {
	return w.inner.BeforeCommit(data)
}

func (w observerWrapper) AfterCommit(data TransactionData, state any) error {
	return w.inner.AfterCommit(data, state)
}

func TestRegisterObserver_WrappedValues(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()

	counts := countingObserver{}
	wrapped := observerWrapper{inner: counts}
	require.NotPanics(t, func() {
		ins.RegisterObserver(wrapped)
		ins.RegisterObserver(wrapped)
	})
	assert.Len(t, acc.Observers(), 2)

	byPointer := observerWrapper{inner: &recordingObserver{}}
	ins.RegisterObserver(byPointer)
	ins.RegisterObserver(byPointer)
	assert.Len(t, acc.Observers(), 3)

	_, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	require.NoError(t, acc.SimulateCommit())
	assert.Equal(t, 2, counts["before"])
}

func TestRegisterObserver_DuringCommitIsIgnored(t *testing.T) {
	gs := storage.NewGraphStorage()
	acc, err := New(gs, testConfig(100), WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	late := &recordingObserver{}
	acc.RegisterObserver(&ObserverFuncs{
		Before: func(TransactionData) (any, error) {
			assert.Nil(t, acc.RegisterObserver(late))
			return nil, nil
		},
	})
	second := &recordingObserver{}
	acc.RegisterObserver(second)

	id := preBatchNode(t, gs, nil, nil)
	require.NoError(t, acc.NodeCreated(id, nil))
	require.NoError(t, acc.SimulateCommit())

	assert.Len(t, acc.Observers(), 2)
	assert.Equal(t, []uint64{id}, second.last(t).CreatedNodes, "later observers still see the whole diff")
	assert.Empty(t, late.commits)
}

func TestRegisterObserver_ClearsState(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()

	_, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, acc.Pending())

	ins.RegisterObserver(&recordingObserver{})
	assert.Zero(t, acc.Pending())
	assert.Empty(t, acc.CreatedNodes())
	assert.Nil(t, acc.RegisterObserver(nil))
}

func TestSimulateCommit_OrderAndHandoff(t *testing.T) {
	ins, _ := newTestInserter(t, 100, WithCommitIDs(func() string { return "commit-1" }))
	acc := ins.Accumulator()

	var order []string
	first := &recordingObserver{name: "first", order: &order}
	second := &recordingObserver{name: "second", order: &order}
	ins.RegisterObserver(first)
	ins.RegisterObserver(second)

	_, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	require.NoError(t, acc.SimulateCommit())

	assert.Equal(t, []string{"first:before", "first:after", "second:before", "second:after"}, order)
	assert.Equal(t, "commit-1", first.last(t).CommitID)
	assert.Equal(t, []any{"state:commit-1"}, first.afterSeen)
	assert.Empty(t, acc.CommitID())
	assert.False(t, acc.Committing())
}

func TestSimulateCommit_ObserverFailure(t *testing.T) {
	for _, phase := range []Phase{PhaseBeforeCommit, PhaseAfterCommit} {
		t.Run(string(phase), func(t *testing.T) {
			reg := metrics.NewRegistry()
			ins, _ := newTestInserter(t, 100, WithMetrics(reg))
			acc := ins.Accumulator()

			cause := errors.New("index unavailable")
			var order []string
			ok := &recordingObserver{name: "ok", order: &order}
			failing := &recordingObserver{name: "failing", order: &order, failAt: phase, err: cause}
			skipped := &recordingObserver{name: "skipped", order: &order}
			ins.RegisterObserver(ok)
			ins.RegisterObserver(failing)
			ins.RegisterObserver(skipped)

			_, err := ins.CreateNode(nil, nil)
			require.NoError(t, err)

			err = acc.SimulateCommit()
			require.Error(t, err)
			assert.True(t, IsObserverFailure(err))
			assert.ErrorIs(t, err, cause)

			var commitErr *CommitError
			require.ErrorAs(t, err, &commitErr)
			assert.Equal(t, 1, commitErr.Observer)
			assert.Equal(t, phase, commitErr.Phase)
			assert.Contains(t, commitErr.ObserverType, "recordingObserver")
			assert.NotEmpty(t, commitErr.CommitID)

			assert.NotContains(t, order, "skipped:before")
			assert.Zero(t, acc.Pending(), "state is cleared even when an observer fails")
			assert.Empty(t, acc.CreatedNodes())
			assert.False(t, acc.Committing())
			assert.Equal(t, 1.0, counterValue(t, reg.ObserverFailuresTotal.WithLabelValues(string(phase))))
			assert.Equal(t, 1.0, counterValue(t, reg.CommitsTotal.WithLabelValues("failed")))
		})
	}
}

func TestSimulateCommit_AutoCommitErrorSurfaces(t *testing.T) {
	ins, _ := newTestInserter(t, 1)
	ins.RegisterObserver(&ObserverFuncs{
		Before: func(TransactionData) (any, error) { return nil, errors.New("boom") },
	})

	_, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)
	_, err = ins.CreateNode(nil, nil)
	assert.True(t, IsObserverFailure(err))
}

func TestSimulateCommit_PanickingObserver(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()
	ins.RegisterObserver(&ObserverFuncs{
		After: func(TransactionData, any) error { panic("observer bug") },
	})

	_, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)

	err = acc.SimulateCommit()
	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, PhaseAfterCommit, commitErr.Phase)
	assert.Contains(t, commitErr.Error(), "observer bug")
	assert.False(t, acc.Committing())
}

func TestSimulateCommit_ReentrantCallsAreIgnored(t *testing.T) {
	gs := storage.NewGraphStorage()
	acc, err := New(gs, testConfig(100), WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	id := preBatchNode(t, gs, nil, nil)

	calls := 0
	acc.RegisterObserver(&ObserverFuncs{
		Before: func(data TransactionData) (any, error) {
			calls++
			assert.True(t, acc.Committing())
			assert.NoError(t, acc.SimulateCommit())

			acc.NodePropertyToBeSet(id, "late", storage.IntValue(1))
			assert.NoError(t, acc.NodePropertySet(id, "late", storage.IntValue(1)))
			assert.NoError(t, acc.NodeCreated(99, nil))
			return nil, nil
		},
	})

	require.NoError(t, acc.NodeCreated(id, nil))
	require.NoError(t, acc.SimulateCommit())

	assert.Equal(t, 1, calls)
	assert.Zero(t, acc.Pending())
	assert.Empty(t, acc.AssignedNodeProperties())
	assert.Empty(t, acc.CreatedNodes())
}

func TestSimulateCommit_Empty(t *testing.T) {
	reg := metrics.NewRegistry()
	ins, _ := newTestInserter(t, 100, WithMetrics(reg))
	acc := ins.Accumulator()
	obs := &recordingObserver{}
	ins.RegisterObserver(obs)

	require.NoError(t, acc.SimulateCommit())
	assert.Empty(t, obs.commits)
	assert.Zero(t, acc.Commits())
	assert.Equal(t, 1.0, counterValue(t, reg.CommitsTotal.WithLabelValues("empty")))
}

func TestPairing(t *testing.T) {
	t.Run("lenient", func(t *testing.T) {
		gs := storage.NewGraphStorage()
		reg := metrics.NewRegistry()
		acc, err := New(gs, testConfig(100), WithLogger(logging.NewNopLogger()), WithMetrics(reg))
		require.NoError(t, err)

		require.NoError(t, acc.NodePropertySet(1, "x", storage.IntValue(1)))
		assert.Equal(t, 1, acc.Pending())
		assert.Equal(t, 1.0, counterValue(t, reg.UnpairedNotifications))

		// mismatched key
		acc.NodePropertyToBeSet(1, "x", storage.IntValue(1))
		require.NoError(t, acc.NodePropertySet(1, "y", storage.IntValue(1)))
		assert.Equal(t, 2.0, counterValue(t, reg.UnpairedNotifications))
	})

	t.Run("strict", func(t *testing.T) {
		gs := storage.NewGraphStorage()
		cfg := testConfig(100)
		cfg.StrictPairing = true
		acc, err := New(gs, cfg, WithLogger(logging.NewNopLogger()))
		require.NoError(t, err)

		err = acc.NodePropertyRemoved(1, "x")
		assert.ErrorIs(t, err, ErrUnpairedNotification)
		assert.Zero(t, acc.Pending())

		acc.NodePropertyToBeSet(1, "x", storage.IntValue(1))
		err = acc.NodePropertySet(1, "x", storage.IntValue(2))
		assert.ErrorIs(t, err, ErrUnpairedNotification, "value must match the preparing call")

		acc.NodeLabelsToBeSet(1, []string{"A"})
		assert.NoError(t, acc.NodeLabelsSet(1, []string{"A"}))
		assert.Equal(t, 1, acc.Pending())
	})
}

func TestClose(t *testing.T) {
	ins, _ := newTestInserter(t, 100)
	acc := ins.Accumulator()
	obs := &recordingObserver{}
	ins.RegisterObserver(obs)

	id, err := ins.CreateNode(nil, nil)
	require.NoError(t, err)

	require.NoError(t, ins.Shutdown())
	assert.Len(t, obs.commits, 1)
	require.NoError(t, acc.Close())
	assert.Len(t, obs.commits, 1, "second close does not commit again")

	acc.NodePropertyToBeSet(id, "x", storage.IntValue(1))
	assert.ErrorIs(t, acc.NodePropertySet(id, "x", storage.IntValue(1)), ErrAccumulatorClosed)
	assert.ErrorIs(t, acc.NodeCreated(id, nil), ErrAccumulatorClosed)
}

func TestMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	ins, _ := newTestInserter(t, 2, WithMetrics(reg))
	ins.RegisterObserver(&recordingObserver{})

	for i := 0; i < 3; i++ {
		_, err := ins.CreateNode(nil, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 3.0, counterValue(t, reg.MutationsTotal.WithLabelValues("node", "create")))
	assert.Equal(t, 1.0, counterValue(t, reg.CommitsTotal.WithLabelValues("committed")))
	assert.Equal(t, 0.0, gaugeValue(t, reg.PendingMutations))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, g.Write(&metric))
	return metric.GetGauge().GetValue()
}
