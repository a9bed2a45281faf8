package storage

import "sort"

// GetProperty returns the current value of a property on a node or edge.
// A missing entity or key reports ok=false.
func (gs *GraphStorage) GetProperty(kind EntityKind, id uint64, key string) (Value, bool) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	props := gs.propertiesOf(kind, id)
	if props == nil {
		return Value{}, false
	}
	v, ok := props[key]
	return v, ok
}

// PropertyKeys returns the sorted property keys of a node or edge
func (gs *GraphStorage) PropertyKeys(kind EntityKind, id uint64) []string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	props := gs.propertiesOf(kind, id)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NodeLabels returns the current labels of a node, or nil if it does not exist
func (gs *GraphStorage) NodeLabels(nodeID uint64) []string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	node, ok := gs.nodes[nodeID]
	if !ok {
		return nil
	}
	labels := make([]string, len(node.Labels))
	copy(labels, node.Labels)
	return labels
}

// propertiesOf assumes the caller holds gs.mu.
func (gs *GraphStorage) propertiesOf(kind EntityKind, id uint64) map[string]Value {
	switch kind {
	case KindNode:
		if node, ok := gs.nodes[id]; ok {
			return node.Properties
		}
	case KindEdge:
		if edge, ok := gs.edges[id]; ok {
			return edge.Properties
		}
	}
	return nil
}

// HasNode reports whether a node exists
func (gs *GraphStorage) HasNode(nodeID uint64) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	_, ok := gs.nodes[nodeID]
	return ok
}

// HasEdge reports whether an edge exists
func (gs *GraphStorage) HasEdge(edgeID uint64) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	_, ok := gs.edges[edgeID]
	return ok
}
