// Package txinput turns a lazily evaluated store query into an in-memory
// sequence. The query runs inside a single read scope that is closed before
// the first element is handed out, so a slow consumer never keeps a read
// transaction open.
package txinput

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/dd0wney/cluso-batchtx/pkg/logging"
	"github.com/dd0wney/cluso-batchtx/pkg/metrics"
)

// ErrDrainFailed wraps every failure that happened while materializing
var ErrDrainFailed = errors.New("failed to drain read scope")

// ReadScope is a bounded read-only window into a store
type ReadScope interface {
	Close() error
}

// Source opens read scopes
type Source[S ReadScope] interface {
	BeginRead(ctx context.Context) (S, error)
}

// Fetch runs a query inside an open scope. The returned sequence is only
// consumed while the scope is open.
type Fetch[S ReadScope, T any] func(ctx context.Context, scope S) (iter.Seq2[T, error], error)

type state int

const (
	unstarted state = iota
	drained
)

// Input is a forward-only cursor over the materialized result of one query
type Input[T any] struct {
	mu    sync.Mutex
	state state
	drain func(ctx context.Context) ([]T, error)

	items []T
	pos   int
	cur   T
	err   error

	logger  logging.Logger
	metrics *metrics.Registry
}

// Option configures an Input
type Option func(*options)

type options struct {
	logger  logging.Logger
	metrics *metrics.Registry
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records drains into reg
func WithMetrics(reg *metrics.Registry) Option {
	return func(o *options) {
		o.metrics = reg
	}
}

// New creates an Input that will run fetch against source on the first pull
func New[S ReadScope, T any](source Source[S], fetch Fetch[S, T], opts ...Option) *Input[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.DefaultLogger()
	}

	return &Input[T]{
		drain: func(ctx context.Context) ([]T, error) {
			return drain(ctx, source, fetch)
		},
		logger:  o.logger.With(logging.Component("txinput")),
		metrics: o.metrics,
	}
}

// Next advances the cursor. The first call materializes the whole result.
// It returns false when the result is exhausted or materialization failed;
// check Err to tell the two apart.
func (in *Input[T]) Next(ctx context.Context) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state == unstarted {
		in.materialize(ctx)
	}
	if in.err != nil || in.pos >= len(in.items) {
		var zero T
		in.cur = zero
		return false
	}
	in.cur = in.items[in.pos]
	in.pos++
	return true
}

// Value returns the element at the cursor
func (in *Input[T]) Value() T {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cur
}

// Err returns the materialization error, if any
func (in *Input[T]) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Len returns the number of materialized elements, or 0 before the first pull
func (in *Input[T]) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// All returns the remaining elements as a sequence. A materialization error
// is yielded once as the final pair.
func (in *Input[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for in.Next(ctx) {
			if !yield(in.Value(), nil) {
				return
			}
		}
		if err := in.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// materialize assumes the caller holds in.mu
func (in *Input[T]) materialize(ctx context.Context) {
	in.state = drained
	timer := logging.StartTimer(in.logger, "materialized read scope")

	items, err := in.drain(ctx)
	if err != nil {
		in.err = fmt.Errorf("%w: %w", ErrDrainFailed, err)
		timer.EndError(in.err)
		if in.metrics != nil {
			in.metrics.RecordInputDrain("error", 0)
		}
		return
	}

	in.items = items
	timer.End(logging.Count(len(items)))
	if in.metrics != nil {
		in.metrics.RecordInputDrain("success", len(items))
	}
}

// drain reports a panic in the source, fetch or sequence as an error
func drain[S ReadScope, T any](ctx context.Context, source Source[S], fetch Fetch[S, T]) (items []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	scope, err := source.BeginRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("open read scope: %w", err)
	}
	defer func() {
		if closeErr := scope.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close read scope: %w", closeErr))
		}
		if err != nil {
			items = nil
		}
	}()

	seq, err := fetch(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
