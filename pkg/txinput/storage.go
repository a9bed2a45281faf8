package txinput

import (
	"context"
	"iter"

	"github.com/dd0wney/cluso-batchtx/pkg/storage"
)

// Nodes materializes the nodes of gs, restricted to label when it is not empty
func Nodes(gs *storage.GraphStorage, label string, opts ...Option) *Input[*storage.Node] {
	return New[*storage.ReadTransaction, *storage.Node](gs, func(_ context.Context, tx *storage.ReadTransaction) (iter.Seq2[*storage.Node, error], error) {
		if label == "" {
			return tx.Nodes(), nil
		}
		return tx.NodesByLabel(label), nil
	}, opts...)
}

// Edges materializes every edge of gs
func Edges(gs *storage.GraphStorage, opts ...Option) *Input[*storage.Edge] {
	return New[*storage.ReadTransaction, *storage.Edge](gs, func(_ context.Context, tx *storage.ReadTransaction) (iter.Seq2[*storage.Edge, error], error) {
		return tx.Edges(), nil
	}, opts...)
}
