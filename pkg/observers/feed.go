package observers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
)

// TopicAll receives every commit. Commits that add or remove a label are
// also published to LabelTopic(label).
const TopicAll = "commits"

// ErrFeedClosed is returned when subscribing to a closed feed
var ErrFeedClosed = errors.New("feed is closed")

// LabelTopic returns the topic for commits touching label
func LabelTopic(label string) string {
	return "label:" + label
}

// Feed publishes a CommitEvent for every simulated commit to in-process
// subscribers. Slow subscribers miss events instead of blocking the commit.
type Feed struct {
	subscribers map[string]map[*Subscription]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	shutdownMu  sync.Mutex
	isShutdown  bool
	bufferSize  int
	dropped     atomic.Uint64
}

// Subscription receives events for one topic
type Subscription struct {
	topic     string
	channel   chan batchtx.CommitEvent
	feed      *Feed
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewFeed creates a feed whose subscriptions buffer bufferSize events
func NewFeed(bufferSize int) *Feed {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Feed{
		subscribers: make(map[string]map[*Subscription]struct{}),
		shutdown:    make(chan struct{}),
		bufferSize:  bufferSize,
	}
}

// BeforeCommit builds the event to publish
func (f *Feed) BeforeCommit(data batchtx.TransactionData) (any, error) {
	return batchtx.NewCommitEvent(data), nil
}

// AfterCommit publishes the event built in BeforeCommit
func (f *Feed) AfterCommit(_ batchtx.TransactionData, state any) error {
	ev, ok := state.(batchtx.CommitEvent)
	if !ok {
		return nil
	}
	f.Publish(TopicAll, ev)
	for _, label := range ev.Labels() {
		f.Publish(LabelTopic(label), ev)
	}
	return nil
}

// Subscribe creates a subscription that ends when ctx is cancelled
func (f *Feed) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	f.shutdownMu.Lock()
	if f.isShutdown {
		f.shutdownMu.Unlock()
		return nil, ErrFeedClosed
	}
	f.shutdownMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topic:   topic,
		channel: make(chan batchtx.CommitEvent, f.bufferSize),
		feed:    f,
		cancel:  cancel,
	}

	f.mu.Lock()
	if f.subscribers[topic] == nil {
		f.subscribers[topic] = make(map[*Subscription]struct{})
	}
	f.subscribers[topic][sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-f.shutdown:
			sub.close()
		}
	}()

	return sub, nil
}

// Publish sends ev to every subscriber of topic without blocking
func (f *Feed) Publish(topic string, ev batchtx.CommitEvent) {
	f.shutdownMu.Lock()
	if f.isShutdown {
		f.shutdownMu.Unlock()
		return
	}
	f.shutdownMu.Unlock()

	// Snapshot so Unsubscribe can run during the sends
	f.mu.RLock()
	subs := make([]*Subscription, 0, len(f.subscribers[topic]))
	for sub := range f.subscribers[topic] {
		subs = append(subs, sub)
	}
	f.mu.RUnlock()

	for _, sub := range subs {
		sub.send(ev, &f.dropped)
	}
}

// SubscriberCount returns the number of subscribers for a topic
func (f *Feed) SubscriberCount(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers[topic])
}

// Dropped returns how many events were skipped because a subscriber was full
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Close ends all subscriptions
func (f *Feed) Close() {
	f.shutdownMu.Lock()
	if f.isShutdown {
		f.shutdownMu.Unlock()
		return
	}
	f.isShutdown = true
	f.shutdownMu.Unlock()

	close(f.shutdown)

	f.mu.Lock()
	for topic, subs := range f.subscribers {
		for sub := range subs {
			sub.close()
		}
		delete(f.subscribers, topic)
	}
	f.mu.Unlock()
}

// Events returns the subscription's channel. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan batchtx.CommitEvent {
	return s.channel
}

// Unsubscribe removes the subscription
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()

	if subs := s.feed.subscribers[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.feed.subscribers, s.topic)
		}
	}
	s.close()
}

// send recovers from a concurrent close of the channel
func (s *Subscription) send(ev batchtx.CommitEvent, dropped *atomic.Uint64) {
	defer func() {
		if recover() != nil {
			dropped.Add(1)
		}
	}()
	select {
	case s.channel <- ev:
	default:
		dropped.Add(1)
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
