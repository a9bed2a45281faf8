package constraints

import (
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

// PropertyConstraint validates one property of nodes carrying a label
type PropertyConstraint struct {
	NodeLabel    string              // Label to apply constraint to
	PropertyName string              // Name of the property
	Types        []storage.ValueType // Allowed types (empty = any type)
	Required     bool                // Whether property must exist
	Min          *storage.Value      // Minimum value (for int/float)
	Max          *storage.Value      // Maximum value (for int/float)
	AsWarning    bool                // Report violations as warnings instead of errors
}

// Name returns the constraint name
func (pc *PropertyConstraint) Name() string {
	return fmt.Sprintf("PropertyConstraint(%s.%s)", pc.NodeLabel, pc.PropertyName)
}

// Validate checks the listed nodes that carry the target label
func (pc *PropertyConstraint) Validate(graph NodeReader, nodeIDs []uint64) ([]Violation, error) {
	nodes, err := touchedNodes(graph, nodeIDs, pc.NodeLabel)
	if err != nil {
		return nil, err
	}

	violations := make([]Violation, 0)
	for _, node := range nodes {
		value, exists := node.GetProperty(pc.PropertyName)
		if !exists {
			if pc.Required {
				violations = append(violations, pc.violation(node.ID, MissingProperty,
					fmt.Sprintf("Node %d missing required property '%s'", node.ID, pc.PropertyName), nil))
			}
			continue
		}

		if len(pc.Types) > 0 && !slices.Contains(pc.Types, value.Type) {
			violations = append(violations, pc.violation(node.ID, InvalidType,
				fmt.Sprintf("Node %d property '%s' has type %s", node.ID, pc.PropertyName, value.Type),
				map[string]any{"actual_type": value.Type.String()}))
			continue
		}

		if pc.Min != nil || pc.Max != nil {
			v, err := pc.checkRange(node.ID, value)
			if err != nil {
				return violations, err
			}
			violations = append(violations, v...)
		}
	}
	return violations, nil
}

// checkRange compares a numeric value against Min and Max. Non-numeric values are ignored.
func (pc *PropertyConstraint) checkRange(nodeID uint64, value storage.Value) ([]Violation, error) {
	actual, ok := numeric(value)
	if !ok {
		return nil, nil
	}

	var violations []Violation
	if pc.Min != nil {
		limit, ok := numeric(*pc.Min)
		if !ok {
			return nil, fmt.Errorf("%s: min value is not numeric", pc.Name())
		}
		if actual < limit {
			violations = append(violations, pc.violation(nodeID, OutOfRange,
				fmt.Sprintf("Node %d property '%s' value %v is below minimum %v", nodeID, pc.PropertyName, value, *pc.Min),
				map[string]any{"value": actual, "min": limit}))
		}
	}
	if pc.Max != nil {
		limit, ok := numeric(*pc.Max)
		if !ok {
			return nil, fmt.Errorf("%s: max value is not numeric", pc.Name())
		}
		if actual > limit {
			violations = append(violations, pc.violation(nodeID, OutOfRange,
				fmt.Sprintf("Node %d property '%s' value %v is above maximum %v", nodeID, pc.PropertyName, value, *pc.Max),
				map[string]any{"value": actual, "max": limit}))
		}
	}
	return violations, nil
}

func (pc *PropertyConstraint) violation(nodeID uint64, vt ViolationType, msg string, details map[string]any) Violation {
	severity := Error
	if pc.AsWarning {
		severity = Warning
	}
	if details == nil {
		details = make(map[string]any)
	}
	details["label"] = pc.NodeLabel
	details["property"] = pc.PropertyName

	return Violation{
		Type:       vt,
		Severity:   severity,
		NodeID:     nodeID,
		Constraint: pc.Name(),
		Message:    msg,
		Details:    details,
	}
}

func numeric(v storage.Value) (float64, bool) {
	switch v.Type {
	case storage.TypeInt:
		i, err := v.AsInt()
		return float64(i), err == nil
	case storage.TypeFloat:
		f, err := v.AsFloat()
		return f, err == nil
	default:
		return 0, false
	}
}
