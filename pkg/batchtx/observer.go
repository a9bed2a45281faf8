package batchtx

// Observer is notified of every non-empty simulated commit. BeforeCommit's
// result is handed back to AfterCommit. The TransactionData is only valid
// until AfterCommit returns.
type Observer interface {
	BeforeCommit(data TransactionData) (any, error)
	AfterCommit(data TransactionData, state any) error
}

// TransactionData is the diff of one simulated commit. Slices and maps
// returned are copies ordered by entity ID then key.
type TransactionData interface {
	// CommitID identifies the simulated commit being replayed
	CommitID() string
	// MutationCount is the number of completed mutations in the batch
	MutationCount() int

	Created(kind EntityKind) []uint64
	AssignedProperties(kind EntityKind) []PropertyEntry
	RemovedProperties(kind EntityKind) []PropertyEntry

	CreatedNodes() []uint64
	CreatedEdges() []uint64
	AssignedNodeProperties() []PropertyEntry
	RemovedNodeProperties() []PropertyEntry
	AssignedEdgeProperties() []PropertyEntry
	RemovedEdgeProperties() []PropertyEntry
	AssignedNodeLabels() map[uint64][]string
	RemovedNodeLabels() map[uint64][]string

	// Deletions are never tracked in batch mode
	DeletedNodes() []uint64
	DeletedEdges() []uint64
	IsDeleted(ref EntityRef) bool
}

// ObserverFuncs adapts a pair of functions to Observer. Either may be nil.
// Register it by pointer so that repeated registration is detected.
type ObserverFuncs struct {
	Before func(data TransactionData) (any, error)
	After  func(data TransactionData, state any) error
}

// BeforeCommit calls Before if set
func (o *ObserverFuncs) BeforeCommit(data TransactionData) (any, error) {
	if o.Before == nil {
		return nil, nil
	}
	return o.Before(data)
}

// AfterCommit calls After if set
func (o *ObserverFuncs) AfterCommit(data TransactionData, state any) error {
	if o.After == nil {
		return nil
	}
	return o.After(data, state)
}
