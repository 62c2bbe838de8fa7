package tools

import (
	"context"
	"encoding/json"

	"github.com/rcliao/memory-bank/internal/bank"
	"github.com/rcliao/memory-bank/internal/model"
)

// CreateBlockRequest describes a new block.
type CreateBlockRequest struct {
	ID            string            `json:"id,omitempty"`
	Type          string            `json:"type"`
	SchemaVersion int               `json:"schema_version,omitempty"`
	Text          string            `json:"text"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Links         []model.BlockLink `json:"links,omitempty"`
	State         string            `json:"state,omitempty"`
	Visibility    string            `json:"visibility,omitempty"`
	Confidence    *model.Confidence `json:"confidence,omitempty"`
	CreatedBy     string            `json:"created_by,omitempty"`
}

// MutationResult reports a write and whether the vector index followed it.
type MutationResult struct {
	Result
	ID            string             `json:"id,omitempty"`
	IsConsistent  bool               `json:"is_consistent"`
	IndexWarning  string             `json:"index_warning,omitempty"`
	SkippedFields []string           `json:"skipped_fields,omitempty"`
	Block         *model.MemoryBlock `json:"block,omitempty"`
}

func mutation(out *bank.Outcome) MutationResult {
	res := MutationResult{
		Result:        ok(),
		IsConsistent:  out.Consistent,
		SkippedFields: out.Skipped,
		Block:         out.Block,
	}
	if out.Block != nil {
		res.ID = out.Block.ID
	}
	if out.IndexErr != nil {
		res.IndexWarning = out.IndexErr.Error()
	}
	return res
}

// CreateBlock validates and stores a block.
func (t *Toolset) CreateBlock(ctx context.Context, req CreateBlockRequest) MutationResult {
	out, err := t.bank.Create(ctx, bank.CreateParams{
		ID:            req.ID,
		Type:          req.Type,
		SchemaVersion: req.SchemaVersion,
		Text:          req.Text,
		Metadata:      req.Metadata,
		Tags:          req.Tags,
		Links:         req.Links,
		State:         req.State,
		Visibility:    req.Visibility,
		Confidence:    req.Confidence,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		return MutationResult{Result: t.fail("create_block", err)}
	}
	return mutation(out)
}

// GetBlockRequest names a block.
type GetBlockRequest struct {
	ID string `json:"id"`
}

// BlockResult carries one block.
type BlockResult struct {
	Result
	Block *model.MemoryBlock `json:"block,omitempty"`
}

// GetBlock reads a block from the structured store.
func (t *Toolset) GetBlock(ctx context.Context, req GetBlockRequest) BlockResult {
	blk, err := t.bank.Get(ctx, req.ID)
	if err != nil {
		return BlockResult{Result: t.fail("get_block", err)}
	}
	return BlockResult{Result: ok(), Block: blk}
}

// UpdateBlockRequest is a partial update. Absent fields are left alone.
// metadata replaces the whole mapping; metadata_patch (RFC 6902 by default,
// or a merge patch with patch_format "merge_patch") is applied after it.
// text_patch is a diff-match-patch patch and excludes text.
type UpdateBlockRequest struct {
	ID            string             `json:"id"`
	Text          *string            `json:"text,omitempty"`
	TextPatch     string             `json:"text_patch,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	MetadataPatch json.RawMessage    `json:"metadata_patch,omitempty"`
	PatchFormat   string             `json:"patch_format,omitempty"`
	Tags          *[]string          `json:"tags,omitempty"`
	Links         *[]model.BlockLink `json:"links,omitempty"`
	State         *string            `json:"state,omitempty"`
	Visibility    *string            `json:"visibility,omitempty"`
	Confidence    *model.Confidence  `json:"confidence,omitempty"`
	SchemaVersion int                `json:"schema_version,omitempty"`
	UpdatedBy     string             `json:"updated_by,omitempty"`
}

// UpdateBlockResult adds the metadata the block ended up with.
type UpdateBlockResult struct {
	MutationResult
	UpdatedMetadata map[string]any `json:"updated_metadata,omitempty"`
}

// UpdateBlock applies a partial update.
func (t *Toolset) UpdateBlock(ctx context.Context, req UpdateBlockRequest) UpdateBlockResult {
	out, err := t.bank.Update(ctx, bank.UpdateParams{
		ID:            req.ID,
		Text:          req.Text,
		TextPatch:     req.TextPatch,
		Metadata:      req.Metadata,
		MetadataPatch: req.MetadataPatch,
		PatchFormat:   req.PatchFormat,
		Tags:          req.Tags,
		Links:         req.Links,
		State:         req.State,
		Visibility:    req.Visibility,
		Confidence:    req.Confidence,
		SchemaVersion: req.SchemaVersion,
		Author:        req.UpdatedBy,
	})
	if err != nil {
		return UpdateBlockResult{MutationResult: MutationResult{Result: t.fail("update_block", err)}}
	}
	res := UpdateBlockResult{MutationResult: mutation(out)}
	if out.Block != nil {
		res.UpdatedMetadata = out.Block.Metadata
	}
	return res
}

// DeleteBlockRequest names a block to remove. Force also drops links from
// other blocks that point at it.
type DeleteBlockRequest struct {
	ID        string `json:"id"`
	Force     bool   `json:"force,omitempty"`
	DeletedBy string `json:"deleted_by,omitempty"`
}

// DeleteBlock removes a block from both stores.
func (t *Toolset) DeleteBlock(ctx context.Context, req DeleteBlockRequest) MutationResult {
	out, err := t.bank.Delete(ctx, bank.DeleteParams{ID: req.ID, Force: req.Force, Author: req.DeletedBy})
	if err != nil {
		return MutationResult{Result: t.fail("delete_block", err)}
	}
	res := mutation(out)
	res.ID = req.ID
	res.Block = nil
	return res
}

// QuerySemanticRequest searches by meaning.
type QuerySemanticRequest struct {
	QueryText  string   `json:"query_text"`
	TopK       int      `json:"top_k,omitempty"`
	FilterTags []string `json:"filter_tags,omitempty"`
	Type       string   `json:"type,omitempty"`
}

// SemanticResult carries ranked blocks.
type SemanticResult struct {
	Result
	Blocks []bank.ScoredBlock `json:"blocks"`
}

// QueryBlocksSemantic ranks blocks by similarity to the query text.
func (t *Toolset) QueryBlocksSemantic(ctx context.Context, req QuerySemanticRequest) SemanticResult {
	if req.QueryText == "" {
		return SemanticResult{Result: t.fail("query_blocks_semantic", invalid("query_text", "query_text is required")), Blocks: []bank.ScoredBlock{}}
	}
	hits, err := t.bank.QuerySemantic(ctx, bank.SemanticParams{
		Text: req.QueryText,
		TopK: req.TopK,
		Tags: req.FilterTags,
		Type: req.Type,
	})
	if err != nil {
		return SemanticResult{Result: t.fail("query_blocks_semantic", err), Blocks: []bank.ScoredBlock{}}
	}
	if hits == nil {
		hits = []bank.ScoredBlock{}
	}
	return SemanticResult{Result: ok(), Blocks: hits}
}

// QueryByTagsRequest selects blocks by tag. match_all requires every tag;
// by default any one is enough.
type QueryByTagsRequest struct {
	Tags     []string `json:"tags"`
	MatchAll bool     `json:"match_all,omitempty"`
}

// BlocksResult carries a list of blocks.
type BlocksResult struct {
	Result
	Blocks []*model.MemoryBlock `json:"blocks"`
}

// QueryBlocksByTags reads matching blocks from the structured store.
func (t *Toolset) QueryBlocksByTags(ctx context.Context, req QueryByTagsRequest) BlocksResult {
	blocks, err := t.bank.QueryByTags(ctx, req.Tags, req.MatchAll)
	if err != nil {
		return BlocksResult{Result: t.fail("query_blocks_by_tags", err), Blocks: []*model.MemoryBlock{}}
	}
	if blocks == nil {
		blocks = []*model.MemoryBlock{}
	}
	return BlocksResult{Result: ok(), Blocks: blocks}
}
