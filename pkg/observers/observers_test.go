package observers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/constraints"
	"github.com/dd0wney/cluso-batchtx/pkg/logging"
	"github.com/dd0wney/cluso-batchtx/pkg/storage"
	"github.com/dd0wney/cluso-batchtx/pkg/txinput"
)

func newInserter(t *testing.T, threshold int) (*batchtx.BatchInserter, *storage.GraphStorage) {
	t.Helper()

	gs := storage.NewGraphStorage()
	t.Cleanup(func() { gs.Close() })

	cfg := batchtx.DefaultConfig()
	cfg.CommitThreshold = threshold
	ins, err := batchtx.NewBatchInserter(gs, cfg, batchtx.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	return ins, gs
}

func TestLabelIndex(t *testing.T) {
	ins, gs := newInserter(t, 1000)

	existing, err := gs.CreateNode([]string{"Person", "Employee"}, nil)
	require.NoError(t, err)

	idx := NewLabelIndex()
	n, err := idx.Seed(context.Background(), gs, txinput.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint64{existing.ID}, idx.Nodes("Employee"))

	ins.RegisterObserver(idx)

	a, err := ins.CreateNode([]string{"Person"}, nil)
	require.NoError(t, err)
	require.NoError(t, ins.RemoveNodeLabel(existing.ID, "Employee"))
	require.NoError(t, ins.AddNodeLabel(existing.ID, "Manager"))

	assert.Equal(t, 1, idx.Count("Person"), "index only changes on commit")

	require.NoError(t, ins.Shutdown())
	assert.Equal(t, []uint64{existing.ID, a}, idx.Nodes("Person"))
	assert.Empty(t, idx.Nodes("Employee"))
	assert.Equal(t, []string{"Manager", "Person"}, idx.Labels())
}

func TestConstraintChecker(t *testing.T) {
	ins, gs := newInserter(t, 1000)
	checker := NewConstraintChecker(gs, logging.NewNopLogger(),
		&constraints.PropertyConstraint{NodeLabel: "User", PropertyName: "email", Required: true},
	)
	ins.RegisterObserver(checker)

	_, err := ins.CreateNode([]string{"User"}, map[string]storage.Value{"email": storage.StringValue("a@example.com")})
	require.NoError(t, err)
	bad, err := ins.CreateNode([]string{"User"}, nil)
	require.NoError(t, err)

	require.NoError(t, ins.Shutdown())

	violations := checker.Violations()
	require.Len(t, violations, 1)
	assert.Equal(t, bad, violations[0].NodeID)
}

func TestConstraintChecker_FailOnViolation(t *testing.T) {
	ins, gs := newInserter(t, 1000)
	checker := NewConstraintChecker(gs, logging.NewNopLogger(),
		&constraints.UniquePropertyConstraint{NodeLabel: "User", PropertyKey: "email"},
	)
	checker.FailOnViolation = true

	var after atomic.Int32
	ins.RegisterObserver(checker)
	ins.RegisterObserver(&batchtx.ObserverFuncs{
		After: func(batchtx.TransactionData, any) error {
			after.Add(1)
			return nil
		},
	})

	props := map[string]storage.Value{"email": storage.StringValue("dup@example.com")}
	_, err := ins.CreateNode([]string{"User"}, props)
	require.NoError(t, err)
	_, err = ins.CreateNode([]string{"User"}, props)
	require.NoError(t, err)

	err = ins.Accumulator().SimulateCommit()
	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.True(t, batchtx.IsObserverFailure(err))
	assert.Zero(t, after.Load(), "later observers are skipped")
	assert.Empty(t, checker.Violations())
}

func TestFeed(t *testing.T) {
	ins, _ := newInserter(t, 1000)
	feed := NewFeed(10)
	defer feed.Close()
	ins.RegisterObserver(feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := feed.Subscribe(ctx, TopicAll)
	require.NoError(t, err)
	people, err := feed.Subscribe(ctx, LabelTopic("Person"))
	require.NoError(t, err)
	others, err := feed.Subscribe(ctx, LabelTopic("Robot"))
	require.NoError(t, err)

	id, err := ins.CreateNode([]string{"Person"}, map[string]storage.Value{"name": storage.StringValue("ada")})
	require.NoError(t, err)
	require.NoError(t, ins.Accumulator().SimulateCommit())

	for _, sub := range []*Subscription{all, people} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, []uint64{id}, ev.CreatedNodes)
			require.Len(t, ev.NodeChanges, 1)
			assert.Equal(t, "name", ev.NodeChanges[0].Key)
			assert.Nil(t, ev.NodeChanges[0].Previous)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for commit event")
		}
	}

	select {
	case ev := <-others.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestFeed_UnsubscribeAndClose(t *testing.T) {
	feed := NewFeed(1)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx, TopicAll)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.SubscriberCount(TopicAll))

	feed.Publish(TopicAll, batchtx.CommitEvent{CommitID: "1"})
	feed.Publish(TopicAll, batchtx.CommitEvent{CommitID: "2"})
	assert.Equal(t, uint64(1), feed.Dropped())

	cancel()
	require.Eventually(t, func() bool { return feed.SubscriberCount(TopicAll) == 0 }, time.Second, 5*time.Millisecond)

	ev, ok := <-sub.Events()
	assert.True(t, ok)
	assert.Equal(t, "1", ev.CommitID)
	_, ok = <-sub.Events()
	assert.False(t, ok, "channel closed after unsubscribe")

	feed.Close()
	feed.Close()
	_, err = feed.Subscribe(context.Background(), TopicAll)
	assert.ErrorIs(t, err, ErrFeedClosed)
}

func TestForwarder(t *testing.T) {
	addr := fmt.Sprintf("inproc://forwarder-%d", time.Now().UnixNano())

	recv, err := NewReceiver(addr)
	require.NoError(t, err)
	defer recv.Close()

	fwd, err := NewForwarder(addr, time.Second, logging.NewNopLogger())
	require.NoError(t, err)
	defer fwd.Close()
	fwd.Required = true

	ins, gs := newInserter(t, 1000)
	ins.RegisterObserver(fwd)

	pre, err := gs.CreateNode(nil, map[string]storage.Value{"color": storage.StringValue("red")})
	require.NoError(t, err)
	require.NoError(t, ins.RemoveNodeProperty(pre.ID, "color"))
	require.NoError(t, ins.Shutdown())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := recv.Receive(ctx)
	require.NoError(t, err)

	require.Len(t, ev.NodeChanges, 1)
	change := ev.NodeChanges[0]
	assert.True(t, change.Removed)
	require.NotNil(t, change.Previous)
	assert.True(t, change.Previous.Equal(storage.StringValue("red")))
}

func TestReceiver_ContextDone(t *testing.T) {
	recv, err := NewReceiver(fmt.Sprintf("inproc://idle-%d", time.Now().UnixNano()))
	require.NoError(t, err)
	defer recv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = recv.Receive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCommitEventJSON(t *testing.T) {
	prev := storage.IntValue(1)
	ev := batchtx.CommitEvent{
		CommitID:    "abc",
		NodeChanges: []batchtx.PropertyChange{{ID: 1, Key: "n", Removed: true, Previous: &prev}},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded batchtx.CommitEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.NodeChanges[0].Previous.Equal(prev))
	assert.Nil(t, decoded.NodeChanges[0].Value)
}
