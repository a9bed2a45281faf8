package storage

import "testing"

// testGraphStorage creates a GraphStorage that is closed when the test ends
func testGraphStorage(t *testing.T, opts ...Option) *GraphStorage {
	t.Helper()

	gs := NewGraphStorage(opts...)
	t.Cleanup(func() {
		if err := gs.Close(); err != nil {
			t.Logf("Warning: Close() failed during cleanup: %v", err)
		}
	})
	return gs
}

// testNode creates a test node with given labels and properties
func testNode(t *testing.T, gs *GraphStorage, labels []string, properties map[string]Value) *Node {
	t.Helper()

	node, err := gs.CreateNode(labels, properties)
	if err != nil {
		t.Fatalf("Failed to create test node: %v", err)
	}
	return node
}

// testEdge creates a test edge between two nodes
func testEdge(t *testing.T, gs *GraphStorage, fromID, toID uint64, edgeType string, properties map[string]Value) *Edge {
	t.Helper()

	edge, err := gs.CreateEdge(fromID, toID, edgeType, properties, 1.0)
	if err != nil {
		t.Fatalf("Failed to create test edge: %v", err)
	}
	return edge
}
