package batchtx

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-batchtx/pkg/logging"
	"github.com/dd0wney/cluso-batchtx/pkg/metrics"
)

// Accumulator collects the diff of a batch load and simulates transaction
// commits for it. Create one per batch-load session with New.
type Accumulator struct {
	store     StoreReader
	threshold int
	strict    bool
	logger    logging.Logger
	metrics   *metrics.Registry
	newID     func() string

	// Indexed by kindIndex
	created  [2]map[uint64]struct{}
	assigned [2]map[propertyKey]PropertyEntry
	removed  [2]map[propertyKey]PropertyEntry

	// Node labels only
	assignedLabels map[uint64]labelSet
	removedLabels  map[uint64]labelSet

	observers  []Observer
	mutations  int
	committing atomic.Bool
	closed     bool
	commitID   string
	commits    atomic.Uint64

	// deferCommits leaves the threshold check to the owner, which detaches
	// full batches and commits them itself
	deferCommits bool

	// preparing notification awaiting its completing call
	pending *pendingOp
}

// Option configures an Accumulator
type Option func(*Accumulator)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(a *Accumulator) {
		a.logger = logger
	}
}

// WithMetrics records mutations and commits into reg
func WithMetrics(reg *metrics.Registry) Option {
	return func(a *Accumulator) {
		a.metrics = reg
	}
}

// WithCommitIDs replaces the commit ID generator
func WithCommitIDs(gen func() string) Option {
	return func(a *Accumulator) {
		a.newID = gen
	}
}

// New creates an accumulator reading pre-batch values from store
func New(store StoreReader, cfg Config, opts ...Option) (*Accumulator, error) {
	if store == nil {
		return nil, fmt.Errorf("batchtx: store reader is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Accumulator{
		store:     store,
		threshold: cfg.CommitThreshold,
		strict:    cfg.StrictPairing,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.DefaultLogger()
	}
	a.logger = a.logger.With(logging.Component("batchtx"))
	a.clear()

	return a, nil
}

// Threshold returns the configured commit threshold
func (a *Accumulator) Threshold() int {
	return a.threshold
}

// Pending returns the number of mutations since the last simulated commit
func (a *Accumulator) Pending() int {
	return a.mutations
}

// Commits returns the number of non-empty simulated commits performed
func (a *Accumulator) Commits() uint64 {
	return a.commits.Load()
}

// Committing reports whether observers are currently being notified. It is
// safe to call from any goroutine.
func (a *Accumulator) Committing() bool {
	return a.committing.Load()
}

// RegisterObserver adds an observer unless it is already registered. It
// discards everything accumulated so far: observers must be registered
// before the batch starts. It registers nothing and returns nil while a
// simulated commit is in progress.
func (a *Accumulator) RegisterObserver(observer Observer) Observer {
	if observer == nil || a.committing.Load() {
		return nil
	}
	a.clear()

	for _, existing := range a.observers {
		if sameObserver(existing, observer) {
			return observer
		}
	}
	a.observers = append(a.observers, observer)
	return observer
}

// Observers returns the registered observers in registration order
func (a *Accumulator) Observers() []Observer {
	out := make([]Observer, len(a.observers))
	copy(out, a.observers)
	return out
}

// SimulateCommit replays the accumulated diff to every observer and clears
// it. An empty diff only resets the mutation count. The first observer error
// stops the replay and is returned as a *CommitError; the diff is cleared
// either way.
func (a *Accumulator) SimulateCommit() (err error) {
	if a.committing.Load() {
		return nil
	}
	if a.isEmpty() {
		a.clear()
		if a.metrics != nil {
			a.metrics.RecordCommit("empty", 0, 0)
		}
		return nil
	}

	a.committing.Store(true)
	a.commitID = a.newID()
	entries := a.entryCount()
	timer := logging.StartTimer(a.logger, "simulated commit",
		logging.CommitID(a.commitID),
		logging.Mutations(a.mutations),
		logging.Count(entries),
		logging.Int("observers", len(a.observers)),
	)

	defer func() {
		elapsed := timer.Elapsed()
		a.clear()
		a.commitID = ""
		a.committing.Store(false)

		status := "committed"
		if err != nil {
			status = "failed"
			timer.EndError(err)
		} else {
			a.commits.Add(1)
			timer.End()
		}
		if a.metrics != nil {
			a.metrics.RecordCommit(status, entries, elapsed)
		}
	}()

	for i, observer := range a.observers {
		if err := a.notify(i, observer); err != nil {
			return err
		}
	}
	return nil
}

// notify runs both hooks of one observer, turning errors and panics into a *CommitError
func (a *Accumulator) notify(index int, observer Observer) (err error) {
	phase := PhaseBeforeCommit
	defer func() {
		if r := recover(); r != nil {
			err = a.observerFailure(index, observer, phase, fmt.Errorf("panic: %v", r))
		}
	}()

	state, err := observer.BeforeCommit(a)
	if err != nil {
		return a.observerFailure(index, observer, phase, err)
	}

	phase = PhaseAfterCommit
	if err := observer.AfterCommit(a, state); err != nil {
		return a.observerFailure(index, observer, phase, err)
	}
	return nil
}

func (a *Accumulator) observerFailure(index int, observer Observer, phase Phase, cause error) error {
	if a.metrics != nil {
		a.metrics.RecordObserverFailure(string(phase))
	}
	typeName := fmt.Sprintf("%T", observer)
	a.logger.Error("observer failed, skipping remaining observers",
		logging.CommitID(a.commitID),
		logging.Observer(index, typeName),
		logging.Phase(string(phase)),
		logging.Error(cause),
	)
	return &CommitError{
		CommitID:     a.commitID,
		Observer:     index,
		ObserverType: typeName,
		Phase:        phase,
		Cause:        cause,
	}
}

// Close simulates a final commit for anything still accumulated. Later
// notifications are ignored and completing calls return ErrAccumulatorClosed.
func (a *Accumulator) Close() error {
	if a.closed {
		return nil
	}
	err := a.SimulateCommit()
	a.closed = true
	return err
}

// countMutation is called by every completing notification
func (a *Accumulator) countMutation(kind EntityKind, op string) error {
	a.mutations++
	if a.metrics != nil {
		a.metrics.RecordMutation(kind.String(), op, a.mutations)
	}
	if a.mutations > a.threshold && !a.deferCommits {
		return a.SimulateCommit()
	}
	return nil
}

// due reports whether the accumulated mutations exceed the threshold
func (a *Accumulator) due() bool {
	return a.mutations > a.threshold
}

// detach moves the accumulated diff into a new accumulator that can be
// committed on its own and clears this one.
func (a *Accumulator) detach() *Accumulator {
	batch := &Accumulator{
		store:          a.store,
		threshold:      a.threshold,
		strict:         a.strict,
		logger:         a.logger,
		metrics:        a.metrics,
		newID:          a.newID,
		created:        a.created,
		assigned:       a.assigned,
		removed:        a.removed,
		assignedLabels: a.assignedLabels,
		removedLabels:  a.removedLabels,
		observers:      a.Observers(),
		mutations:      a.mutations,
	}
	a.clear()
	return batch
}

func (a *Accumulator) clear() {
	a.mutations = 0
	for i := range a.created {
		a.created[i] = make(map[uint64]struct{})
		a.assigned[i] = make(map[propertyKey]PropertyEntry)
		a.removed[i] = make(map[propertyKey]PropertyEntry)
	}
	a.assignedLabels = make(map[uint64]labelSet)
	a.removedLabels = make(map[uint64]labelSet)
	a.pending = nil
}

func (a *Accumulator) isEmpty() bool {
	for i := range a.created {
		if len(a.created[i]) > 0 || len(a.assigned[i]) > 0 || len(a.removed[i]) > 0 {
			return false
		}
	}
	return len(a.assignedLabels) == 0 && len(a.removedLabels) == 0
}

func (a *Accumulator) entryCount() int {
	n := 0
	for i := range a.created {
		n += len(a.created[i]) + len(a.assigned[i]) + len(a.removed[i])
	}
	for _, s := range a.assignedLabels {
		n += len(s)
	}
	for _, s := range a.removedLabels {
		n += len(s)
	}
	return n
}

// sameObserver compares observers by identity. Observers holding
// non-comparable values, directly or in an interface field, are never
// considered equal.
func sameObserver(x, y Observer) bool {
	if reflect.TypeOf(x) != reflect.TypeOf(y) {
		return false
	}
	if !reflect.ValueOf(x).Comparable() || !reflect.ValueOf(y).Comparable() {
		return false
	}
	return x == y
}
