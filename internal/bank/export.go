package bank

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/store"
)

// ExportParams filters an export.
type ExportParams struct {
	Type string
	Tags []string
}

// Export returns every block matching p with metadata and links, most
// recently updated first.
func (b *Bank) Export(ctx context.Context, p ExportParams) ([]*model.MemoryBlock, error) {
	return b.List(ctx, store.ListParams{Type: p.Type, Tags: model.NormalizeTags(p.Tags)})
}

// ImportSummary counts the outcome of an import.
type ImportSummary struct {
	Imported     int               `json:"imported"`
	Skipped      int               `json:"skipped"`
	Failed       int               `json:"failed"`
	Inconsistent int               `json:"inconsistent"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// Import stores exported blocks, keeping their IDs. Blocks that already
// exist are skipped. Blocks are created without links first and linked in a
// second pass, so links between imported blocks resolve in any order.
func (b *Bank) Import(ctx context.Context, blocks []*model.MemoryBlock, author string) (*ImportSummary, error) {
	sum := &ImportSummary{}
	fail := func(id string, err error) {
		sum.Failed++
		if sum.Errors == nil {
			sum.Errors = map[string]string{}
		}
		sum.Errors[id] = err.Error()
		b.log.Warn("import failed", "id", id, "err", err)
	}

	var linked []*model.MemoryBlock
	for _, blk := range blocks {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ok, err := b.store.Exists(ctx, blk.ID)
		if err != nil {
			return sum, err
		}
		if ok {
			sum.Skipped++
			continue
		}
		createdBy := blk.CreatedBy
		if createdBy == "" {
			createdBy = author
		}
		out, err := b.Create(ctx, CreateParams{
			ID:            blk.ID,
			Type:          blk.Type,
			SchemaVersion: blk.SchemaVersion,
			Text:          blk.Text,
			Metadata:      blk.Metadata,
			Tags:          blk.Tags,
			State:         blk.State,
			Visibility:    blk.Visibility,
			Confidence:    blk.Confidence,
			CreatedBy:     createdBy,
			CreatedAt:     blk.CreatedAt,
		})
		if errors.Is(err, model.ErrVersionMismatch) {
			// Exports from an older schema are validated against the latest.
			out, err = b.Create(ctx, CreateParams{
				ID: blk.ID, Type: blk.Type, Text: blk.Text, Metadata: blk.Metadata, Tags: blk.Tags,
				State: blk.State, Visibility: blk.Visibility, Confidence: blk.Confidence,
				CreatedBy: createdBy, CreatedAt: blk.CreatedAt,
			})
		}
		if err != nil {
			fail(blk.ID, err)
			continue
		}
		sum.Imported++
		if !out.Consistent {
			sum.Inconsistent++
		}
		if len(blk.Links) > 0 {
			linked = append(linked, blk)
		}
	}

	for _, blk := range linked {
		ls := blk.Links
		if _, err := b.Update(ctx, UpdateParams{ID: blk.ID, Links: &ls, Author: author}); err != nil {
			fail(blk.ID, fmt.Errorf("link: %w", err))
		}
	}
	b.log.Info("import finished", "imported", sum.Imported, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}
