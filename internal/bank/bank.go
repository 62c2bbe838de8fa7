// Package bank is the structured memory bank: it keeps the structured store
// and the vector index in step for every block mutation.
//
// Each mutation runs validate, decompose, one store transaction (block,
// properties, links and a commit row), then vector sync under a timeout,
// then link sync. The store is the source of truth. A vector failure after
// the commit does not fail the operation; it is reported in Outcome and
// persisted as index state so a repair pass can find it.
package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rcliao/memory-bank/internal/embedding"
	"github.com/rcliao/memory-bank/internal/links"
	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/props"
	"github.com/rcliao/memory-bank/internal/schema"
	"github.com/rcliao/memory-bank/internal/store"
	"github.com/rcliao/memory-bank/internal/vector"
)

const (
	DefaultIndexTimeout = 10 * time.Second
	DefaultAgentID      = "system"
)

// Options wires a Bank. Store, Index and Registry are required.
type Options struct {
	Store        store.Store
	Index        vector.Index
	Registry     *schema.Registry
	Links        links.Manager // defaults to a manager over Store
	Logger       *log.Logger
	IndexTimeout time.Duration
	AllowPending bool // accept links to blocks that do not exist yet
}

// Bank orchestrates block mutations across the structured store and the
// vector index.
type Bank struct {
	store    store.Store
	index    vector.Index
	registry *schema.Registry
	links    links.Manager
	mapper   *props.Mapper
	log      *log.Logger
	timeout  time.Duration
	now      func() time.Time
}

// New returns a Bank.
func New(opts Options) (*Bank, error) {
	if opts.Store == nil || opts.Index == nil || opts.Registry == nil {
		return nil, errors.New("bank needs a store, an index and a registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	lm := opts.Links
	if lm == nil {
		lm = links.NewStoreManager(opts.Store, links.Options{AllowPending: opts.AllowPending})
	}
	timeout := opts.IndexTimeout
	if timeout <= 0 {
		timeout = DefaultIndexTimeout
	}
	return &Bank{
		store:    opts.Store,
		index:    opts.Index,
		registry: opts.Registry,
		links:    lm,
		mapper:   props.NewMapper(logger),
		log:      logger.WithPrefix("bank"),
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Registry returns the schema registry the bank validates against.
func (b *Bank) Registry() *schema.Registry { return b.registry }

// Links returns the link manager.
func (b *Bank) Links() links.Manager { return b.links }

// Store returns the structured store.
func (b *Bank) Store() store.Store { return b.store }

// Outcome is the result of a mutation. Consistent is false when the vector
// index could not be brought in line with the committed write.
type Outcome struct {
	Block      *model.MemoryBlock `json:"block,omitempty"`
	Commit     *model.Commit      `json:"commit,omitempty"`
	Consistent bool               `json:"is_consistent"`
	IndexErr   error              `json:"-"`
	Skipped    []string           `json:"skipped_fields,omitempty"`
}

// CreateParams describes a new block.
type CreateParams struct {
	ID            string // optional; a UUID is generated when empty
	Type          string
	SchemaVersion int // 0 = latest
	Text          string
	Metadata      map[string]any
	Tags          []string
	Links         []model.BlockLink
	State         string
	Visibility    string
	Confidence    *model.Confidence
	CreatedBy     string
	CreatedAt     time.Time // zero = now
}

// Create validates and stores a new block, then indexes it.
func (b *Bank) Create(ctx context.Context, p CreateParams) (*Outcome, error) {
	id := p.ID
	if id == "" {
		id = model.NewBlockID()
	} else if err := model.ValidateBlockID(id); err != nil {
		return nil, err
	}

	blk := &model.MemoryBlock{
		ID:         id,
		Type:       strings.TrimSpace(p.Type),
		Text:       p.Text,
		State:      p.State,
		Visibility: p.Visibility,
		Tags:       model.NormalizeTags(p.Tags),
		Links:      model.DedupeLinks(p.Links),
		Confidence: p.Confidence,
		CreatedBy:  p.CreatedBy,
	}
	if blk.State == "" {
		blk.State = model.DefaultState
	}
	if blk.Visibility == "" {
		blk.Visibility = model.DefaultVisibility
	}
	now := b.now()
	blk.CreatedAt, blk.UpdatedAt = now, now
	if !p.CreatedAt.IsZero() {
		blk.CreatedAt = p.CreatedAt.UTC()
	}

	md := copyMap(p.Metadata)
	if _, ok := md["x_agent_id"]; !ok {
		agent := p.CreatedBy
		if agent == "" {
			agent = DefaultAgentID
		}
		md["x_agent_id"] = agent
	}
	if _, ok := md["x_timestamp"]; !ok {
		md["x_timestamp"] = now
	}

	rows, skipped, err := b.prepare(ctx, blk, p.SchemaVersion, md)
	if err != nil {
		return nil, err
	}

	commit, err := b.store.CreateBlock(ctx, store.WriteParams{Block: blk, Properties: rows, Author: p.CreatedBy})
	if err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}
	b.log.Debug("block committed", "id", blk.ID, "type", blk.Type, "commit", commit.ID)

	out := &Outcome{Block: blk, Commit: commit, Consistent: true, Skipped: skipped}
	if _, err := b.syncIndex(ctx, blk, false); err != nil {
		out.Consistent, out.IndexErr = false, err
	}
	b.syncLinks(ctx, blk)
	return out, nil
}

// prepare runs the validate and decompose steps. It sets blk.Metadata and
// blk.SchemaVersion and never touches storage.
func (b *Bank) prepare(ctx context.Context, blk *model.MemoryBlock, version int, md map[string]any) ([]model.BlockProperty, []string, error) {
	if err := checkBlockFields(blk); err != nil {
		return nil, nil, err
	}
	m, v, err := b.registry.Resolve(blk.Type, version)
	if err != nil {
		return nil, nil, err
	}
	split := props.ValidateAgainstSchema(md, m)
	if len(split.Errors) > 0 {
		return nil, nil, model.NewValidationError(blk.Type, split.Errors)
	}
	if err := b.links.CheckTargets(ctx, blk.ID, blk.Links); err != nil {
		return nil, nil, err
	}

	blk.SchemaVersion = v
	blk.Metadata = props.MergeExtras(split.Valid, split.Extras)
	rows, skipped := b.mapper.Decompose(blk.ID, blk.Metadata)
	for _, k := range skipped {
		delete(blk.Metadata, k)
	}
	return rows, skipped, nil
}

func checkBlockFields(blk *model.MemoryBlock) error {
	var fields []model.FieldError
	if blk.Type == "" {
		fields = append(fields, model.FieldError{Field: "type", Tag: "required", Message: "type is required"})
	}
	if !model.ValidStates[blk.State] {
		fields = append(fields, model.FieldError{Field: "state", Tag: "oneof", Expected: "draft|published|archived", Actual: blk.State, Message: fmt.Sprintf("invalid state %q", blk.State)})
	}
	if !model.ValidVisibilities[blk.Visibility] {
		fields = append(fields, model.FieldError{Field: "visibility", Tag: "oneof", Expected: "internal|public|restricted", Actual: blk.Visibility, Message: fmt.Sprintf("invalid visibility %q", blk.Visibility)})
	}
	for i, l := range blk.Links {
		if err := model.ValidateRelation(l.Relation); err != nil {
			fields = append(fields, model.FieldError{Field: fmt.Sprintf("links[%d].relation", i), Tag: "snake_case", Actual: l.Relation, Message: err.Error()})
		}
		if l.ToID == "" {
			fields = append(fields, model.FieldError{Field: fmt.Sprintf("links[%d].to_id", i), Tag: "required", Message: "link target is required"})
		}
	}
	if len(fields) > 0 {
		return model.NewValidationError(blk.Type, fields)
	}
	return blk.Confidence.Validate()
}

// Get reads a block from the structured store. The vector index is never
// consulted.
func (b *Bank) Get(ctx context.Context, id string) (*model.MemoryBlock, error) {
	if err := model.ValidateBlockID(id); err != nil {
		return nil, err
	}
	rec, err := b.store.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.hydrate(rec), nil
}

func (b *Bank) hydrate(rec *store.Record) *model.MemoryBlock {
	blk := rec.Block
	blk.Metadata = b.mapper.Compose(rec.Properties)
	return blk
}

// DeleteParams identifies a block to delete.
type DeleteParams struct {
	ID     string
	Force  bool // delete even when other blocks link here, dropping those links
	Author string
}

// Delete removes a block from the store, then drops its links from the link
// manager and its vector node. A failure after the store commit leaves the
// deletion in place and reports the outcome as inconsistent.
func (b *Bank) Delete(ctx context.Context, p DeleteParams) (*Outcome, error) {
	if err := model.ValidateBlockID(p.ID); err != nil {
		return nil, err
	}
	commit, rewritten, err := b.store.DeleteBlock(ctx, store.DeleteParams{ID: p.ID, Force: p.Force, Author: p.Author})
	if err != nil {
		return nil, fmt.Errorf("delete block: %w", err)
	}
	if len(rewritten) > 0 {
		b.log.Info("dropped links to deleted block", "id", p.ID, "sources", len(rewritten))
	}

	out := &Outcome{Commit: commit, Consistent: true}
	if err := b.links.Forget(ctx, p.ID); err != nil {
		b.log.Warn("link manager kept links of deleted block", "id", p.ID, "err", err)
		out.Consistent = false
	}
	if err := b.removeFromIndex(ctx, p.ID); err != nil {
		out.Consistent, out.IndexErr = false, err
	}
	return out, nil
}

func (b *Bank) removeFromIndex(ctx context.Context, id string) error {
	ictx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.index.Delete(ictx, id); err != nil {
		b.log.Warn("vector delete failed; block flagged", "id", id, "err", err)
		if serr := b.store.SetIndexState(ctx, model.IndexState{BlockID: id, Consistent: false, LastError: err.Error()}); serr != nil {
			b.log.Error("record index state", "id", id, "err", serr)
		}
		return fmt.Errorf("remove %s from index: %w: %w", id, model.ErrIndexSync, err)
	}
	if err := b.store.DeleteIndexState(ctx, id); err != nil {
		b.log.Warn("clear index state", "id", id, "err", err)
	}
	return nil
}

// syncIndex upserts blk's vector node and records the index state. With
// skipUnchanged, a block whose indexed content hash matches is left alone and
// skipped is true.
func (b *Bank) syncIndex(ctx context.Context, blk *model.MemoryBlock, skipUnchanged bool) (skipped bool, err error) {
	text := IndexText(blk)
	hash := embedding.ContentHash(blk.Type + "\x00" + text)

	if skipUnchanged {
		if st, err := b.store.GetIndexState(ctx, blk.ID); err == nil && st.Consistent && st.ContentHash == hash {
			ok, herr := b.index.Has(ctx, blk.ID)
			if herr == nil && ok {
				b.log.Debug("index up to date", "id", blk.ID)
				return true, nil
			}
		}
	}

	ictx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	err = b.index.Upsert(ictx, vector.Node{ID: blk.ID, Type: blk.Type, Text: text, ContentHash: hash})

	st := model.IndexState{BlockID: blk.ID, ContentHash: hash, Consistent: err == nil}
	if err != nil {
		st.LastError = err.Error()
		b.log.Warn("vector sync failed; block flagged inconsistent", "id", blk.ID, "err", err)
	} else {
		at := b.now()
		st.IndexedAt = &at
	}
	if serr := b.store.SetIndexState(ctx, st); serr != nil {
		b.log.Error("record index state", "id", blk.ID, "err", serr)
	}
	if err != nil {
		return false, fmt.Errorf("index block %s: %w: %w", blk.ID, model.ErrIndexSync, err)
	}
	return false, nil
}

// syncLinks brings the link manager in line with the block's links. The
// store-backed manager already holds them from the write transaction, so
// this only writes when another manager is wired in.
func (b *Bank) syncLinks(ctx context.Context, blk *model.MemoryBlock) {
	if err := b.links.ReplaceLinks(ctx, blk.ID, blk.Links); err != nil {
		b.log.Warn("link sync failed", "id", blk.ID, "err", err)
	}
}

// IndexText is the text embedded for a block: its title, when the metadata
// has one, followed by the block text.
func IndexText(blk *model.MemoryBlock) string {
	var parts []string
	if title, ok := blk.Metadata["title"].(string); ok && strings.TrimSpace(title) != "" {
		parts = append(parts, strings.TrimSpace(title))
	}
	if t := strings.TrimSpace(blk.Text); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n\n")
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
