package observers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/constraints"
	"github.com/dd0wney/cluso-batchtx/pkg/logging"
)

// ErrConstraintViolation is returned from BeforeCommit when FailOnViolation
// is set and a commit produced error-severity violations
var ErrConstraintViolation = errors.New("constraint violation")

// ConstraintChecker validates the nodes touched by each commit
type ConstraintChecker struct {
	validator *constraints.Validator
	graph     constraints.NodeReader
	logger    logging.Logger

	// FailOnViolation aborts the commit's remaining observers on error-severity violations
	FailOnViolation bool

	mu         sync.Mutex
	violations []constraints.Violation
}

// NewConstraintChecker creates a checker reading nodes from graph
func NewConstraintChecker(graph constraints.NodeReader, logger logging.Logger, cs ...constraints.Constraint) *ConstraintChecker {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &ConstraintChecker{
		validator: constraints.NewValidator(cs...),
		graph:     graph,
		logger:    logger.With(logging.Component("constraint_checker")),
	}
}

// BeforeCommit validates the nodes touched by the commit
func (c *ConstraintChecker) BeforeCommit(data batchtx.TransactionData) (any, error) {
	ids := touchedNodeIDs(data)
	if len(ids) == 0 {
		return nil, nil
	}

	result, err := c.validator.Validate(c.graph, ids)
	if err != nil {
		return nil, fmt.Errorf("validate commit %s: %w", data.CommitID(), err)
	}
	if c.FailOnViolation && result.HasErrors() {
		errs := result.GetViolationsBySeverity(constraints.Error)
		return result, fmt.Errorf("%w: %d error(s), first: %s", ErrConstraintViolation, len(errs), errs[0].Message)
	}
	return result, nil
}

// AfterCommit records the violations found in BeforeCommit
func (c *ConstraintChecker) AfterCommit(data batchtx.TransactionData, state any) error {
	result, ok := state.(*constraints.ValidationResult)
	if !ok || result.Valid {
		return nil
	}

	for _, v := range result.Violations {
		c.logger.Warn("constraint violated",
			logging.CommitID(data.CommitID()),
			logging.NodeID(v.NodeID),
			logging.String("constraint", v.Constraint),
			logging.String("severity", v.Severity.String()),
			logging.String("message", v.Message),
		)
	}

	c.mu.Lock()
	c.violations = append(c.violations, result.Violations...)
	c.mu.Unlock()
	return nil
}

// Violations returns every violation reported by committed batches
func (c *ConstraintChecker) Violations() []constraints.Violation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]constraints.Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// touchedNodeIDs returns the created nodes and the nodes with property or label changes
func touchedNodeIDs(data batchtx.TransactionData) []uint64 {
	seen := make(map[uint64]struct{})
	for _, id := range data.CreatedNodes() {
		seen[id] = struct{}{}
	}
	for _, e := range data.AssignedNodeProperties() {
		seen[e.Entity.ID] = struct{}{}
	}
	for _, e := range data.RemovedNodeProperties() {
		seen[e.Entity.ID] = struct{}{}
	}
	for id := range data.AssignedNodeLabels() {
		seen[id] = struct{}{}
	}
	for id := range data.RemovedNodeLabels() {
		seen[id] = struct{}{}
	}

	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
