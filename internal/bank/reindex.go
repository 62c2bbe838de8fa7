package bank

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/memory-bank/internal/model"
)

// RebuildSummary counts the outcome of a bulk reindex.
type RebuildSummary struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Unchanged int               `json:"unchanged"`
	Removed   int               `json:"removed"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func (s *RebuildSummary) fail(id string, err error) {
	s.Failed++
	if s.Errors == nil {
		s.Errors = map[string]string{}
	}
	s.Errors[id] = err.Error()
}

// RebuildIndexForBlock re-derives the vector node of id from the structured
// store. Unless force is set, a node whose content hash still matches is left
// alone and unchanged is true. A block missing from the store has its node
// removed and ErrNotFound is returned.
func (b *Bank) RebuildIndexForBlock(ctx context.Context, id string, force bool) (unchanged bool, err error) {
	rec, err := b.store.GetBlock(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		if rerr := b.removeFromIndex(ctx, id); rerr != nil {
			return false, rerr
		}
		return false, err
	}
	if err != nil {
		return false, err
	}
	return b.syncIndex(ctx, b.hydrate(rec), !force)
}

// RebuildAllFromTag reindexes every block carrying tag. Individual failures
// are logged and counted; the batch always runs to the end.
func (b *Bank) RebuildAllFromTag(ctx context.Context, tag string, force bool) (*RebuildSummary, error) {
	ids, err := b.store.BlockIDs(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	sum := &RebuildSummary{}
	b.rebuild(ctx, ids, force, sum)
	b.log.Info("reindex finished", "tag", tag, "total", sum.Total, "ok", sum.Succeeded, "unchanged", sum.Unchanged, "failed", sum.Failed)
	return sum, nil
}

// RebuildAll reindexes every block. With reset the index is emptied first,
// which also drops nodes whose blocks are gone.
func (b *Bank) RebuildAll(ctx context.Context, reset bool) (*RebuildSummary, error) {
	if reset {
		if err := b.index.Reset(ctx); err != nil {
			return nil, fmt.Errorf("reset index: %w: %w", model.ErrIndexSync, err)
		}
	}
	ids, err := b.store.BlockIDs(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	sum := &RebuildSummary{}
	b.rebuild(ctx, ids, reset, sum)

	// Blocks deleted while the index was unreachable still have a state row.
	states, err := b.store.IndexStates(ctx, false)
	if err != nil {
		return sum, fmt.Errorf("list index states: %w", err)
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}
	for _, st := range states {
		if live[st.BlockID] {
			continue
		}
		if err := b.removeFromIndex(ctx, st.BlockID); err != nil {
			sum.fail(st.BlockID, err)
			continue
		}
		sum.Removed++
	}
	b.log.Info("full reindex finished", "total", sum.Total, "ok", sum.Succeeded, "removed", sum.Removed, "failed", sum.Failed)
	return sum, nil
}

// RepairInconsistent retries every block flagged inconsistent.
func (b *Bank) RepairInconsistent(ctx context.Context) (*RebuildSummary, error) {
	states, err := b.store.IndexStates(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list index states: %w", err)
	}
	sum := &RebuildSummary{}
	for _, st := range states {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Total++
		_, err := b.RebuildIndexForBlock(ctx, st.BlockID, true)
		switch {
		case errors.Is(err, model.ErrNotFound):
			sum.Removed++
		case err != nil:
			b.log.Warn("repair failed", "id", st.BlockID, "err", err)
			sum.fail(st.BlockID, err)
		default:
			sum.Succeeded++
		}
	}
	b.log.Info("repair finished", "total", sum.Total, "ok", sum.Succeeded, "removed", sum.Removed, "failed", sum.Failed)
	return sum, nil
}

func (b *Bank) rebuild(ctx context.Context, ids []string, force bool, sum *RebuildSummary) {
	for _, id := range ids {
		sum.Total++
		if ctx.Err() != nil {
			sum.fail(id, ctx.Err())
			continue
		}
		unchanged, err := b.RebuildIndexForBlock(ctx, id, force)
		switch {
		case err != nil:
			b.log.Warn("reindex failed", "id", id, "err", err)
			sum.fail(id, err)
		case unchanged:
			sum.Unchanged++
		default:
			sum.Succeeded++
		}
	}
}
