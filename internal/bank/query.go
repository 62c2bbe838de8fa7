package bank

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/store"
)

const (
	DefaultTopK = 10
	// MaxTopK caps the number of results a semantic query returns.
	MaxTopK = 100
	// overFetch widens the vector query when results are filtered afterwards.
	overFetch = 4
)

// SemanticParams holds parameters for a semantic query.
type SemanticParams struct {
	Text string
	TopK int
	Tags []string // keep blocks carrying any of these
	Type string
}

// ScoredBlock is a block returned by a semantic query.
type ScoredBlock struct {
	Block *model.MemoryBlock `json:"block"`
	Score float32            `json:"score"`
}

// QuerySemantic finds blocks similar to p.Text. The index only supplies IDs
// and ranking; every block is re-read from the structured store, and index
// nodes whose block no longer exists are skipped. TopK is clamped to
// [1, MaxTopK]; zero or less selects DefaultTopK.
func (b *Bank) QuerySemantic(ctx context.Context, p SemanticParams) ([]ScoredBlock, error) {
	k := p.TopK
	switch {
	case k <= 0:
		k = DefaultTopK
	case k > MaxTopK:
		k = MaxTopK
	}
	fetch := k
	tags := model.NormalizeTags(p.Tags)
	if len(tags) > 0 || p.Type != "" {
		fetch = k * overFetch
	}

	ictx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	hits, err := b.index.Query(ictx, p.Text, fetch)
	if err != nil {
		return nil, fmt.Errorf("semantic query: %w: %w", model.ErrIndexSync, err)
	}

	out := make([]ScoredBlock, 0, min(k, len(hits)))
	for _, h := range hits {
		if len(out) == k {
			break
		}
		rec, err := b.store.GetBlock(ctx, h.ID)
		if errors.Is(err, model.ErrNotFound) {
			b.log.Debug("stale index node", "id", h.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		blk := b.hydrate(rec)
		if p.Type != "" && blk.Type != p.Type {
			continue
		}
		if len(tags) > 0 && !blk.HasAnyTag(tags) {
			continue
		}
		out = append(out, ScoredBlock{Block: blk, Score: h.Score})
	}
	return out, nil
}

// QueryByTags lists blocks carrying any of tags, or all of them when all is
// set. Newest first.
func (b *Bank) QueryByTags(ctx context.Context, tags []string, all bool) ([]*model.MemoryBlock, error) {
	tags = model.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil, &model.ValidationError{Fields: []model.FieldError{{Field: "tags", Tag: "required", Message: "at least one tag is required"}}}
	}
	return b.List(ctx, store.ListParams{Tags: tags, AllTag: all})
}

// List lists blocks matching p.
func (b *Bank) List(ctx context.Context, p store.ListParams) ([]*model.MemoryBlock, error) {
	recs, err := b.store.ListBlocks(ctx, p)
	if err != nil {
		return nil, err
	}
	return b.hydrateAll(recs), nil
}

// QueryText runs a keyword search over block text in the structured store.
func (b *Bank) QueryText(ctx context.Context, p store.SearchParams) ([]*model.MemoryBlock, error) {
	recs, err := b.store.SearchText(ctx, p)
	if err != nil {
		return nil, err
	}
	return b.hydrateAll(recs), nil
}

func (b *Bank) hydrateAll(recs []store.Record) []*model.MemoryBlock {
	out := make([]*model.MemoryBlock, 0, len(recs))
	for i := range recs {
		out = append(out, b.hydrate(&recs[i]))
	}
	return out
}
