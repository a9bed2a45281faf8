package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReadTransaction_Nodes(t *testing.T) {
	gs := testGraphStorage(t)
	for i := 0; i < 3; i++ {
		testNode(t, gs, []string{"Item"}, map[string]Value{"n": IntValue(int64(i))})
	}

	tx, err := gs.BeginRead(context.Background())
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	defer tx.Close()

	var ids []uint64
	for node, err := range tx.Nodes() {
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		ids = append(ids, node.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Errorf("Expected nodes 1..3 in order, got %v", ids)
	}

	if tx.ID() != 1 || gs.GetStatistics().ReadTransactions != 1 {
		t.Errorf("Expected first read transaction, got id %d", tx.ID())
	}
}

func TestReadTransaction_ClosedIteration(t *testing.T) {
	gs := testGraphStorage(t)
	testNode(t, gs, []string{"Item"}, nil)

	tx, err := gs.BeginRead(context.Background())
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	seq := tx.NodesByLabel("Item")
	if err := tx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice must not release the lock twice
	if err := tx.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	for _, err := range seq {
		if !errors.Is(err, ErrTransactionNotActive) {
			t.Errorf("Expected ErrTransactionNotActive, got %v", err)
		}
	}
	if _, err := tx.GetNode(1); !errors.Is(err, ErrTransactionNotActive) {
		t.Errorf("Expected ErrTransactionNotActive, got %v", err)
	}
}

func TestReadTransaction_BlocksWriters(t *testing.T) {
	gs := testGraphStorage(t)

	tx, err := gs.BeginRead(context.Background())
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := gs.CreateNode(nil, nil); err != nil {
			t.Errorf("CreateNode failed: %v", err)
		}
	}()

	select {
	case <-done:
		t.Fatal("writer should block while a read transaction is open")
	case <-time.After(50 * time.Millisecond):
	}

	tx.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not resume after Close")
	}
}

func TestReadTransaction_Edges(t *testing.T) {
	gs := testGraphStorage(t)
	a := testNode(t, gs, nil, nil)
	b := testNode(t, gs, nil, nil)
	testEdge(t, gs, a.ID, b.ID, "LINKS", nil)
	testEdge(t, gs, b.ID, a.ID, "LINKS", nil)

	tx, err := gs.BeginRead(context.Background())
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	defer tx.Close()

	count := 0
	for edge, err := range tx.Edges() {
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		count++
		if edge.Type != "LINKS" {
			t.Errorf("Unexpected edge type %q", edge.Type)
		}
		break
	}
	if count != 1 {
		t.Errorf("Expected early break after one edge, got %d", count)
	}
}

func TestBeginRead_Errors(t *testing.T) {
	gs := NewGraphStorage()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gs.BeginRead(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	gs.Close()
	if _, err := gs.BeginRead(context.Background()); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("Expected ErrStorageClosed, got %v", err)
	}
}
