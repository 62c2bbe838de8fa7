package tools

import (
	"context"

	"github.com/rcliao/memory-bank/internal/bank"
)

// ReindexRequest selects what to rebuild. With id set only that block is
// rebuilt; with tag every block carrying it; with inconsistent_only the
// blocks flagged inconsistent; otherwise everything. Force re-embeds even
// when the content hash is unchanged; reset empties the index first.
type ReindexRequest struct {
	ID               string `json:"id,omitempty"`
	Tag              string `json:"tag,omitempty"`
	InconsistentOnly bool   `json:"inconsistent_only,omitempty"`
	Force            bool   `json:"force,omitempty"`
	Reset            bool   `json:"reset,omitempty"`
}

// ReindexResult reports a rebuild.
type ReindexResult struct {
	Result
	Summary *bank.RebuildSummary `json:"summary,omitempty"`
}

// Reindex re-derives vector nodes from the structured store.
func (t *Toolset) Reindex(ctx context.Context, req ReindexRequest) ReindexResult {
	var (
		sum *bank.RebuildSummary
		err error
	)
	switch {
	case req.ID != "":
		var unchanged bool
		unchanged, err = t.bank.RebuildIndexForBlock(ctx, req.ID, req.Force)
		sum = &bank.RebuildSummary{Total: 1}
		switch {
		case err != nil:
		case unchanged:
			sum.Unchanged = 1
		default:
			sum.Succeeded = 1
		}
	case req.Tag != "":
		sum, err = t.bank.RebuildAllFromTag(ctx, req.Tag, req.Force)
	case req.InconsistentOnly:
		sum, err = t.bank.RepairInconsistent(ctx)
	default:
		sum, err = t.bank.RebuildAll(ctx, req.Reset)
	}
	if err != nil {
		return ReindexResult{Result: t.fail("reindex", err), Summary: sum}
	}
	return ReindexResult{Result: ok(), Summary: sum}
}

// ContextRequest asks for the blocks most relevant to a query, packed into
// a token budget.
type ContextRequest struct {
	Query  string   `json:"query"`
	Type   string   `json:"type,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Budget int      `json:"budget,omitempty"`
}

// ContextResult carries the packed context.
type ContextResult struct {
	Result
	*bank.ContextResult
}

// BuildContext assembles context for a query.
func (t *Toolset) BuildContext(ctx context.Context, req ContextRequest) ContextResult {
	if req.Query == "" {
		return ContextResult{Result: t.fail("build_context", invalid("query", "query is required"))}
	}
	res, err := t.bank.Context(ctx, bank.ContextParams{Query: req.Query, Type: req.Type, Tags: req.Tags, Budget: req.Budget})
	if err != nil {
		return ContextResult{Result: t.fail("build_context", err)}
	}
	return ContextResult{Result: ok(), ContextResult: res}
}

// StatsResult carries store and index totals.
type StatsResult struct {
	Result
	*bank.Stats
}

// Stats reports totals for both stores.
func (t *Toolset) Stats(ctx context.Context) StatsResult {
	st, err := t.bank.Stats(ctx)
	if err != nil {
		return StatsResult{Result: t.fail("stats", err)}
	}
	return StatsResult{Result: ok(), Stats: st}
}
