package storage

import (
	"sort"
	"sync/atomic"
	"time"
)

// CreateEdge creates a new edge between two existing nodes
func (gs *GraphStorage) CreateEdge(fromID, toID uint64, edgeType string, properties map[string]Value, weight float64) (edge *Edge, err error) {
	defer func(start time.Time) { gs.recordOperation("create_edge", err, start) }(time.Now())

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if err := gs.checkClosed(); err != nil {
		return nil, err
	}

	if _, exists := gs.nodes[fromID]; !exists {
		return nil, NodeNotFoundError("CreateEdge", fromID)
	}
	if _, exists := gs.nodes[toID]; !exists {
		return nil, NodeNotFoundError("CreateEdge", toID)
	}

	edgeID, err := gs.allocateEdgeID()
	if err != nil {
		return nil, NewError("CreateEdge").Cause(err).Err()
	}

	now := time.Now().Unix()
	e := &Edge{
		ID:         edgeID,
		FromNodeID: fromID,
		ToNodeID:   toID,
		Type:       edgeType,
		Properties: copyProperties(properties),
		Weight:     weight,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	gs.edges[edgeID] = e
	gs.edgesByType[edgeType] = append(gs.edgesByType[edgeType], edgeID)
	gs.outgoingEdges[fromID] = append(gs.outgoingEdges[fromID], edgeID)
	gs.incomingEdges[toID] = append(gs.incomingEdges[toID], edgeID)

	atomic.AddUint64(&gs.stats.EdgeCount, 1)

	return e.Clone(), nil
}

// GetEdge retrieves an edge by ID
func (gs *GraphStorage) GetEdge(edgeID uint64) (*Edge, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	edge, exists := gs.edges[edgeID]
	if !exists {
		return nil, EdgeNotFoundError("GetEdge", edgeID)
	}
	return edge.Clone(), nil
}

// SetEdgeProperty assigns a single property on an edge
func (gs *GraphStorage) SetEdgeProperty(edgeID uint64, key string, value Value) (err error) {
	defer func(start time.Time) { gs.recordOperation("set_edge_property", err, start) }(time.Now())

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if err := gs.checkClosed(); err != nil {
		return err
	}

	edge, exists := gs.edges[edgeID]
	if !exists {
		return EdgeNotFoundError("SetEdgeProperty", edgeID)
	}
	edge.Properties[key] = value
	edge.UpdatedAt = time.Now().Unix()
	return nil
}

// RemoveEdgeProperty removes a property from an edge. Removing a missing key is not an error.
func (gs *GraphStorage) RemoveEdgeProperty(edgeID uint64, key string) (err error) {
	defer func(start time.Time) { gs.recordOperation("remove_edge_property", err, start) }(time.Now())

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if err := gs.checkClosed(); err != nil {
		return err
	}

	edge, exists := gs.edges[edgeID]
	if !exists {
		return EdgeNotFoundError("RemoveEdgeProperty", edgeID)
	}
	delete(edge.Properties, key)
	edge.UpdatedAt = time.Now().Unix()
	return nil
}

// GetOutgoingEdges returns the edges leaving a node
func (gs *GraphStorage) GetOutgoingEdges(nodeID uint64) ([]*Edge, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	if _, exists := gs.nodes[nodeID]; !exists {
		return nil, NodeNotFoundError("GetOutgoingEdges", nodeID)
	}
	return gs.buildEdgeListFromIDs(gs.outgoingEdges[nodeID]), nil
}

// FindEdgesByType finds all edges of a specific type
func (gs *GraphStorage) FindEdgesByType(edgeType string) ([]*Edge, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	return gs.buildEdgeListFromIDs(gs.edgesByType[edgeType]), nil
}

// buildEdgeListFromIDs assumes the caller holds gs.mu.
func (gs *GraphStorage) buildEdgeListFromIDs(edgeIDs []uint64) []*Edge {
	edges := make([]*Edge, 0, len(edgeIDs))
	for _, id := range edgeIDs {
		if edge, ok := gs.edges[id]; ok {
			edges = append(edges, edge.Clone())
		}
	}
	return edges
}

// sortedEdgeIDs assumes the caller holds gs.mu.
func (gs *GraphStorage) sortedEdgeIDs() []uint64 {
	ids := make([]uint64, 0, len(gs.edges))
	for id := range gs.edges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
