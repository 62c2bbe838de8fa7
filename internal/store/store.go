// Package store provides the structured block store and its SQLite implementation.
package store

import (
	"context"

	"github.com/rcliao/memory-bank/internal/model"
)

// DefaultBranch names the commit branch used when none is configured.
const DefaultBranch = "main"

// Record is a block row together with its decomposed metadata rows.
type Record struct {
	Block      *model.MemoryBlock
	Properties []model.BlockProperty
}

// WriteParams holds one atomic block write.
type WriteParams struct {
	Block      *model.MemoryBlock
	Properties []model.BlockProperty
	Message    string // commit message; a default is derived when empty
	Author     string
}

// DeleteParams holds parameters for removing a block.
type DeleteParams struct {
	ID     string
	Force  bool // also drop incoming links and rewrite their source blocks
	Author string
}

// ListParams holds parameters for listing blocks.
type ListParams struct {
	Type   string
	State  string
	Tags   []string
	AllTag bool // require every tag instead of any
	Limit  int
	Offset int
}

// Store is the structured source of truth for blocks, links and schemas.
type Store interface {
	// CreateBlock writes the block row, its properties and its outgoing links
	// in one transaction and appends a commit.
	CreateBlock(ctx context.Context, w WriteParams) (*model.Commit, error)

	// UpdateBlock replaces the block row, properties and outgoing links.
	UpdateBlock(ctx context.Context, w WriteParams) (*model.Commit, error)

	// DeleteBlock removes a block. It returns the IDs of blocks whose embedded
	// links were rewritten because they pointed at the deleted block.
	DeleteBlock(ctx context.Context, p DeleteParams) (*model.Commit, []string, error)

	GetBlock(ctx context.Context, id string) (*Record, error)
	ListBlocks(ctx context.Context, p ListParams) ([]Record, error)
	BlockIDs(ctx context.Context, tag string) ([]string, error)
	Exists(ctx context.Context, id string) (bool, error)

	AddLink(ctx context.Context, l model.Link) error
	RemoveLink(ctx context.Context, l model.Link) error
	ReplaceLinks(ctx context.Context, fromID string, links []model.BlockLink) error
	ForwardLinks(ctx context.Context, fromID string) ([]model.Link, error)
	Backlinks(ctx context.Context, toID string) ([]string, error)

	RegisterSchema(ctx context.Context, rec model.SchemaRecord) (bool, error)
	GetSchema(ctx context.Context, nodeType string, version int) (*model.SchemaRecord, error)
	ListSchemas(ctx context.Context) ([]model.SchemaRecord, error)

	SetIndexState(ctx context.Context, st model.IndexState) error
	GetIndexState(ctx context.Context, blockID string) (*model.IndexState, error)
	IndexStates(ctx context.Context, inconsistentOnly bool) ([]model.IndexState, error)
	DeleteIndexState(ctx context.Context, blockID string) error

	Commits(ctx context.Context, limit int) ([]model.Commit, error)
	SearchText(ctx context.Context, p SearchParams) ([]Record, error)
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the store.
	Close() error
}
