package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoises an Embedder by content hash, so unchanged text is not
// re-embedded on update or reindex.
type Cached struct {
	next      Embedder
	namespace string
	cache     *ristretto.Cache
}

// NewCached wraps next with a cache holding up to maxVectors vectors.
// namespace keeps vectors from different models apart.
func NewCached(next Embedder, namespace string, maxVectors int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxVectors * 10,
		MaxCost:     maxVectors,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{next: next, namespace: namespace, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	key := c.namespace + ":" + ContentHash(text)
	if v, ok := c.cache.Get(key); ok {
		return append(Vector(nil), v.(Vector)...), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append(Vector(nil), vec...), 1)
	return vec, nil
}

func (c *Cached) Dims() int { return c.next.Dims() }

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() { c.cache.Wait() }

func (c *Cached) Close() { c.cache.Close() }
