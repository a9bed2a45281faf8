package constraints

import (
	"fmt"
)

// UniquePropertyConstraint ensures a property value is unique among the
// nodes carrying NodeLabel. Only the touched nodes are reported, each
// against the lowest other node ID holding the same value.
type UniquePropertyConstraint struct {
	NodeLabel   string
	PropertyKey string
}

// Name returns a human-readable name for this constraint
func (c *UniquePropertyConstraint) Name() string {
	return fmt.Sprintf("Unique(%s.%s)", c.NodeLabel, c.PropertyKey)
}

// Validate checks the listed nodes against every node with the label
func (c *UniquePropertyConstraint) Validate(graph NodeReader, nodeIDs []uint64) ([]Violation, error) {
	if c.NodeLabel == "" {
		return nil, fmt.Errorf("%s: node label is required", c.Name())
	}

	touched, err := touchedNodes(graph, nodeIDs, c.NodeLabel)
	if err != nil {
		return nil, err
	}
	if len(touched) == 0 {
		return nil, nil
	}

	all, err := graph.FindNodesByLabel(c.NodeLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to find nodes with label %s: %w", c.NodeLabel, err)
	}

	// property value -> node IDs in ascending order
	seen := make(map[string][]uint64)
	for _, node := range all {
		if prop, ok := node.Properties[c.PropertyKey]; ok {
			key := prop.Type.String() + ":" + prop.String()
			seen[key] = append(seen[key], node.ID)
		}
	}

	var violations []Violation
	for _, node := range touched {
		prop, ok := node.Properties[c.PropertyKey]
		if !ok {
			continue
		}
		valueKey := prop.Type.String() + ":" + prop.String()
		for _, other := range seen[valueKey] {
			if other == node.ID {
				continue
			}
			violations = append(violations, Violation{
				Type:       UniquenessViolation,
				Severity:   Error,
				NodeID:     node.ID,
				Constraint: c.Name(),
				Message: fmt.Sprintf("Duplicate value '%s' for property '%s' (also exists on node %d)",
					prop, c.PropertyKey, other),
				Details: map[string]any{
					"label":     c.NodeLabel,
					"property":  c.PropertyKey,
					"duplicate": other,
				},
			})
			break
		}
	}
	return violations, nil
}
