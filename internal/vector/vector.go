// Package vector is the semantic index: one node per memory block, derived
// from the structured store and rebuildable from it at any time.
package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/memory-bank/internal/embedding"
)

const DefaultCollection = "memory_blocks"

// Node is what the index keeps for a block: enough identity to find the
// canonical record, plus the text it was embedded from.
type Node struct {
	ID          string
	Type        string
	Text        string
	ContentHash string
}

// Hit is one query result, best first.
type Hit struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	ContentHash string  `json:"content_hash,omitempty"`
	Score       float32 `json:"score"`
}

// Index is the vector index adapter. Upsert and Delete are idempotent by ID.
type Index interface {
	Upsert(ctx context.Context, n Node) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, text string, k int) ([]Hit, error)
	Get(ctx context.Context, id string) (*Node, error) // nil when absent
	Has(ctx context.Context, id string) (bool, error)
	Count() int
	Reset(ctx context.Context) error
}

// Options configures a ChromemIndex.
type Options struct {
	Dir        string // persistence directory; empty keeps the index in memory
	Collection string
	Compress   bool
}

// ChromemIndex stores nodes in a chromem-go collection. Vectors are computed
// by the configured embedder before insertion so the caller's context bounds
// the embedding call.
type ChromemIndex struct {
	db       *chromem.DB
	name     string
	embedder embedding.Embedder
	log      *log.Logger

	mu  sync.RWMutex
	col *chromem.Collection
}

// NewChromemIndex opens (or creates) the collection described by opts.
func NewChromemIndex(e embedding.Embedder, opts Options, logger *log.Logger) (*ChromemIndex, error) {
	if e == nil {
		return nil, fmt.Errorf("vector index needs an embedder")
	}
	if logger == nil {
		logger = log.Default()
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}

	var db *chromem.DB
	if opts.Dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(opts.Dir, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("open vector db %s: %w", opts.Dir, err)
		}
	}

	idx := &ChromemIndex{db: db, name: opts.Collection, embedder: e, log: logger.WithPrefix("vector")}
	if err := idx.open(); err != nil {
		return nil, err
	}
	idx.log.Debug("index opened", "collection", opts.Collection, "dir", opts.Dir, "nodes", idx.Count())
	return idx, nil
}

func (x *ChromemIndex) open() error {
	col, err := x.db.GetOrCreateCollection(x.name, nil, x.embedFunc)
	if err != nil {
		return fmt.Errorf("open collection %s: %w", x.name, err)
	}
	x.mu.Lock()
	x.col = col
	x.mu.Unlock()
	return nil
}

func (x *ChromemIndex) embedFunc(ctx context.Context, text string) ([]float32, error) {
	return x.embedder.Embed(ctx, text)
}

func (x *ChromemIndex) collection() *chromem.Collection {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.col
}

// Upsert replaces the node for n.ID.
func (x *ChromemIndex) Upsert(ctx context.Context, n Node) error {
	if n.ID == "" {
		return fmt.Errorf("upsert node: empty id")
	}
	vec, err := x.embedder.Embed(ctx, n.Text)
	if err != nil {
		return fmt.Errorf("embed node %s: %w", n.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upsert node %s: %w", n.ID, err)
	}
	if n.ContentHash == "" {
		n.ContentHash = embedding.ContentHash(n.Text)
	}

	col := x.collection()
	if err := col.Delete(ctx, nil, nil, n.ID); err != nil {
		return fmt.Errorf("replace node %s: %w", n.ID, err)
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        n.ID,
		Content:   n.Text,
		Embedding: vec,
		Metadata: map[string]string{
			"block_id":     n.ID,
			"type":         n.Type,
			"content_hash": n.ContentHash,
		},
	})
	if err != nil {
		return fmt.Errorf("add node %s: %w", n.ID, err)
	}
	x.log.Debug("upserted node", "id", n.ID, "type", n.Type)
	return nil
}

// Delete removes the node for id. Deleting an absent node is not an error.
func (x *ChromemIndex) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	if err := x.collection().Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

// Query returns up to k nodes most similar to text.
func (x *ChromemIndex) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("query: k must be positive, got %d", k)
	}
	col := x.collection()
	if n := col.Count(); n == 0 {
		return nil, nil
	} else if k > n {
		k = n
	}

	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	res, err := col.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	hits := make([]Hit, 0, len(res))
	for _, r := range res {
		hits = append(hits, Hit{
			ID:          r.ID,
			Type:        r.Metadata["type"],
			ContentHash: r.Metadata["content_hash"],
			Score:       r.Similarity,
		})
	}
	return hits, nil
}

// Get returns the stored node for id, or nil.
func (x *ChromemIndex) Get(ctx context.Context, id string) (*Node, error) {
	if id == "" {
		return nil, nil
	}
	doc, err := x.collection().GetByID(ctx, id)
	if err != nil {
		// chromem reports a missing document as an error.
		return nil, nil
	}
	return &Node{
		ID:          doc.ID,
		Type:        doc.Metadata["type"],
		Text:        doc.Content,
		ContentHash: doc.Metadata["content_hash"],
	}, nil
}

func (x *ChromemIndex) Has(ctx context.Context, id string) (bool, error) {
	n, err := x.Get(ctx, id)
	return n != nil, err
}

func (x *ChromemIndex) Count() int {
	return x.collection().Count()
}

// Reset drops every node.
func (x *ChromemIndex) Reset(ctx context.Context) error {
	if err := x.db.DeleteCollection(x.name); err != nil {
		return fmt.Errorf("drop collection %s: %w", x.name, err)
	}
	x.log.Info("index reset", "collection", x.name)
	return x.open()
}
