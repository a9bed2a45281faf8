package storage

import (
	"sort"
	"sync/atomic"
	"time"
)

// CreateNode creates a new node
func (gs *GraphStorage) CreateNode(labels []string, properties map[string]Value) (node *Node, err error) {
	defer func(start time.Time) { gs.recordOperation("create_node", err, start) }(time.Now())

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if err := gs.checkClosed(); err != nil {
		return nil, err
	}

	nodeID, err := gs.allocateNodeID()
	if err != nil {
		return nil, NewError("CreateNode").Cause(err).Err()
	}

	now := time.Now().Unix()
	n := &Node{
		ID:         nodeID,
		Labels:     dedupeLabels(labels),
		Properties: copyProperties(properties),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	gs.nodes[nodeID] = n
	for _, label := range n.Labels {
		gs.addToLabelIndex(label, nodeID)
	}

	atomic.AddUint64(&gs.stats.NodeCount, 1)

	return n.Clone(), nil
}

// GetNode retrieves a node by ID
func (gs *GraphStorage) GetNode(nodeID uint64) (*Node, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	node, exists := gs.nodes[nodeID]
	if !exists {
		return nil, NodeNotFoundError("GetNode", nodeID)
	}
	return node.Clone(), nil
}

// SetNodeProperty assigns a single property on a node
func (gs *GraphStorage) SetNodeProperty(nodeID uint64, key string, value Value) (err error) {
	defer func(start time.Time) { gs.recordOperation("set_node_property", err, start) }(time.Now())

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if err := gs.checkClosed(); err != nil {
		return err
	}

	node, exists := gs.nodes[nodeID]
	if !exists {
		return NodeNotFoundError("SetNodeProperty", nodeID)
	}
	node.Properties[key] = value
	node.UpdatedAt = time.Now().Unix()
	return nil
}

// RemoveNodeProperty removes a property from a node. Removing a missing key is not an error.
func (gs *GraphStorage) RemoveNodeProperty(nodeID uint64, key string) (err error) {
	defer func(start time.Time) { gs.recordOperation("remove_node_property", err, start) }(time.Now())

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if err := gs.checkClosed(); err != nil {
		return err
	}

	node, exists := gs.nodes[nodeID]
	if !exists {
		return NodeNotFoundError("RemoveNodeProperty", nodeID)
	}
	delete(node.Properties, key)
	node.UpdatedAt = time.Now().Unix()
	return nil
}

// SetNodeLabels replaces the full label set of a node
func (gs *GraphStorage) SetNodeLabels(nodeID uint64, labels []string) (err error) {
	defer func(start time.Time) { gs.recordOperation("set_node_labels", err, start) }(time.Now())

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if err := gs.checkClosed(); err != nil {
		return err
	}

	node, exists := gs.nodes[nodeID]
	if !exists {
		return NodeNotFoundError("SetNodeLabels", nodeID)
	}

	for _, label := range node.Labels {
		gs.removeFromLabelIndex(label, nodeID)
	}
	node.Labels = dedupeLabels(labels)
	for _, label := range node.Labels {
		gs.addToLabelIndex(label, nodeID)
	}
	node.UpdatedAt = time.Now().Unix()
	return nil
}

// FindNodesByLabel finds all nodes with a specific label, ordered by ID
func (gs *GraphStorage) FindNodesByLabel(label string) ([]*Node, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	return gs.nodesWithLabel(label), nil
}

// GetAllLabels returns all node labels in use, sorted
func (gs *GraphStorage) GetAllLabels() []string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	labels := make([]string, 0, len(gs.nodesByLabel))
	for label := range gs.nodesByLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// nodesWithLabel assumes the caller holds gs.mu.
func (gs *GraphStorage) nodesWithLabel(label string) []*Node {
	ids := gs.nodesByLabel[label]
	nodes := make([]*Node, 0, len(ids))
	for id := range ids {
		if node, ok := gs.nodes[id]; ok {
			nodes = append(nodes, node.Clone())
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func (gs *GraphStorage) addToLabelIndex(label string, nodeID uint64) {
	ids, ok := gs.nodesByLabel[label]
	if !ok {
		ids = make(map[uint64]struct{})
		gs.nodesByLabel[label] = ids
	}
	ids[nodeID] = struct{}{}
}

func (gs *GraphStorage) removeFromLabelIndex(label string, nodeID uint64) {
	ids, ok := gs.nodesByLabel[label]
	if !ok {
		return
	}
	delete(ids, nodeID)
	if len(ids) == 0 {
		delete(gs.nodesByLabel, label)
	}
}

// sortedNodeIDs assumes the caller holds gs.mu.
func (gs *GraphStorage) sortedNodeIDs() []uint64 {
	ids := make([]uint64, 0, len(gs.nodes))
	for id := range gs.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
