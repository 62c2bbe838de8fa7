package bank

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/patch"
	"github.com/rcliao/memory-bank/internal/store"
)

// UpdateParams describes a partial update. Nil fields are left as they are.
// Metadata replaces the whole mapping; MetadataPatch is applied after it.
// Text and TextPatch are mutually exclusive.
type UpdateParams struct {
	ID            string
	Text          *string
	TextPatch     string
	Metadata      map[string]any
	MetadataPatch json.RawMessage
	PatchFormat   string // json_patch (default) or merge_patch
	Tags          *[]string
	Links         *[]model.BlockLink
	State         *string
	Visibility    *string
	Confidence    *model.Confidence
	SchemaVersion int // 0 = latest
	Author        string
}

// Update applies p to an existing block. Patches are checked and applied in
// memory before any write; an oversized or failing patch changes nothing.
func (b *Bank) Update(ctx context.Context, p UpdateParams) (*Outcome, error) {
	if err := model.ValidateBlockID(p.ID); err != nil {
		return nil, err
	}
	if p.Text != nil && p.TextPatch != "" {
		return nil, &model.ValidationError{Reason: "text and text_patch are mutually exclusive"}
	}

	rec, err := b.store.GetBlock(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	cur := b.hydrate(rec)
	next := *cur

	switch {
	case p.Text != nil:
		next.Text = *p.Text
	case p.TextPatch != "":
		text, err := patch.Text(cur.Text, p.TextPatch)
		if err != nil {
			return nil, err
		}
		next.Text = text
	}

	md := cur.Metadata
	if p.Metadata != nil {
		md = copyMap(p.Metadata)
		// System fields survive a whole-mapping replacement unless given.
		for _, k := range []string{"x_agent_id", "x_timestamp"} {
			if _, ok := md[k]; !ok {
				if v, had := cur.Metadata[k]; had {
					md[k] = v
				}
			}
		}
	}
	if len(p.MetadataPatch) > 0 {
		md, err = patch.Metadata(md, p.PatchFormat, p.MetadataPatch)
		if err != nil {
			return nil, err
		}
	}

	if p.Tags != nil {
		next.Tags = model.NormalizeTags(*p.Tags)
	}
	if p.Links != nil {
		next.Links = model.DedupeLinks(*p.Links)
	}
	if p.State != nil {
		next.State = *p.State
	}
	if p.Visibility != nil {
		next.Visibility = *p.Visibility
	}
	if p.Confidence != nil {
		next.Confidence = p.Confidence
	}
	next.UpdatedAt = b.now()

	rows, skipped, err := b.prepare(ctx, &next, p.SchemaVersion, md)
	if err != nil {
		return nil, err
	}

	commit, err := b.store.UpdateBlock(ctx, store.WriteParams{Block: &next, Properties: rows, Author: p.Author})
	if err != nil {
		return nil, fmt.Errorf("update block: %w", err)
	}
	b.log.Debug("block committed", "id", next.ID, "commit", commit.ID)

	out := &Outcome{Block: &next, Commit: commit, Consistent: true, Skipped: skipped}
	if _, err := b.syncIndex(ctx, &next, true); err != nil {
		out.Consistent, out.IndexErr = false, err
	}
	b.syncLinks(ctx, &next)
	return out, nil
}
