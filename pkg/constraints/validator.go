package constraints

import (
	"time"
)

// ValidationResult contains the results of validating nodes against constraints
type ValidationResult struct {
	Valid      bool        // True if no violations found
	Violations []Violation // List of all violations
	CheckedAt  time.Time   // When validation was performed
}

// GetViolationsBySeverity returns violations filtered by severity level
func (vr *ValidationResult) GetViolationsBySeverity(severity Severity) []Violation {
	filtered := make([]Violation, 0)
	for _, v := range vr.Violations {
		if v.Severity == severity {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// HasErrors reports whether any violation has Error severity
func (vr *ValidationResult) HasErrors() bool {
	for _, v := range vr.Violations {
		if v.Severity == Error {
			return true
		}
	}
	return false
}

// Validator manages a set of constraints
type Validator struct {
	constraints []Constraint
}

// NewValidator creates a validator with the given constraints
func NewValidator(constraints ...Constraint) *Validator {
	return &Validator{constraints: constraints}
}

// AddConstraint adds a constraint to the validator
func (v *Validator) AddConstraint(constraint Constraint) {
	v.constraints = append(v.constraints, constraint)
}

// Validate runs all constraints against the listed nodes
func (v *Validator) Validate(graph NodeReader, nodeIDs []uint64) (*ValidationResult, error) {
	result := &ValidationResult{
		Valid:      true,
		Violations: make([]Violation, 0),
		CheckedAt:  time.Now(),
	}

	for _, constraint := range v.constraints {
		violations, err := constraint.Validate(graph, nodeIDs)
		if err != nil {
			return nil, err
		}
		if len(violations) > 0 {
			result.Valid = false
			result.Violations = append(result.Violations, violations...)
		}
	}
	return result, nil
}

// GetConstraints returns all constraints in the validator
func (v *Validator) GetConstraints() []Constraint {
	return v.constraints
}
