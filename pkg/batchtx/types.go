package batchtx

import (
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

// EntityKind distinguishes nodes from edges
type EntityKind = storage.EntityKind

const (
	KindNode = storage.KindNode
	KindEdge = storage.KindEdge
)

// EntityRef identifies a node or an edge
type EntityRef struct {
	Kind EntityKind
	ID   uint64
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// PropertyEntry is one coalesced property change. For removals Value is the
// zero Value. HadPrevious is false when the key did not exist before the batch.
type PropertyEntry struct {
	Entity      EntityRef
	Key         string
	Value       storage.Value
	Previous    storage.Value
	HadPrevious bool
}

// StoreReader is the read side of the graph store the accumulator consults
// to resolve values as they were before the batch touched them.
type StoreReader interface {
	GetProperty(kind EntityKind, id uint64, key string) (storage.Value, bool)
	PropertyKeys(kind EntityKind, id uint64) []string
	NodeLabels(nodeID uint64) []string
}

type propertyKey struct {
	id  uint64
	key string
}

type labelSet map[string]struct{}

func newLabelSet(labels []string) labelSet {
	s := make(labelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

func (s labelSet) sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func kindIndex(kind EntityKind) int {
	switch kind {
	case KindNode:
		return 0
	case KindEdge:
		return 1
	default:
		panic(fmt.Sprintf("batchtx: unknown entity kind %d", kind))
	}
}
