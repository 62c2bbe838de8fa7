package bank

import (
	"context"

	"github.com/rcliao/memory-bank/internal/store"
)

// Stats describes both stores.
type Stats struct {
	*store.Stats
	IndexedNodes int      `json:"indexed_nodes"`
	Registered   []string `json:"registered_types"`
}

// Stats reports store totals, the vector node count and the registered types.
func (b *Bank) Stats(ctx context.Context) (*Stats, error) {
	st, err := b.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Stats: st, IndexedNodes: b.index.Count(), Registered: b.registry.Types()}, nil
}
