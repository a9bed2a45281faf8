package constraints

import (
	"fmt"

	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

// NodeReader defines the read-only operations needed for constraint validation.
// *storage.GraphStorage implements it.
type NodeReader interface {
	GetNode(nodeID uint64) (*storage.Node, error)
	FindNodesByLabel(label string) ([]*storage.Node, error)
}

// Severity indicates the importance of a violation
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ViolationType categorizes the type of constraint violation
type ViolationType int

const (
	MissingProperty ViolationType = iota
	InvalidType
	OutOfRange
	UniquenessViolation
)

func (vt ViolationType) String() string {
	switch vt {
	case MissingProperty:
		return "MissingProperty"
	case InvalidType:
		return "InvalidType"
	case OutOfRange:
		return "OutOfRange"
	case UniquenessViolation:
		return "UniquenessViolation"
	default:
		return "Unknown"
	}
}

// Violation represents a constraint violation on one node
type Violation struct {
	Type       ViolationType
	Severity   Severity
	NodeID     uint64
	Constraint string
	Message    string
	Details    map[string]any
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Constraint, v.Message)
}

// Constraint is checked against the nodes a batch touched. Nodes that no
// longer exist are skipped.
type Constraint interface {
	Validate(graph NodeReader, nodeIDs []uint64) ([]Violation, error)
	Name() string
}

// touchedNodes loads the nodes carrying label, skipping missing IDs
func touchedNodes(graph NodeReader, nodeIDs []uint64, label string) ([]*storage.Node, error) {
	nodes := make([]*storage.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		node, err := graph.GetNode(id)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to load node %d: %w", id, err)
		}
		if label != "" && !node.HasLabel(label) {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
