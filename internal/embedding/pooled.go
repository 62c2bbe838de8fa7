package embedding

import (
	"context"
	"fmt"

	"github.com/rcliao/memory-bank/internal/chunker"
)

// Pooled embeds long text window by window and averages the window vectors,
// so a block stays one vector no matter how long its text is.
type Pooled struct {
	next Embedder
	opts chunker.Options
}

func NewPooled(next Embedder, maxRunes int) *Pooled {
	opts := chunker.DefaultOptions()
	opts.MaxRunes = maxRunes
	opts.Overlap = maxRunes / 10
	return &Pooled{next: next, opts: opts}
}

func (p *Pooled) Embed(ctx context.Context, text string) (Vector, error) {
	windows := chunker.Split(text, p.opts)
	if len(windows) <= 1 {
		return p.next.Embed(ctx, text)
	}

	var sum Vector
	for i, w := range windows {
		v, err := p.next.Embed(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("embed window %d/%d: %w", i+1, len(windows), err)
		}
		if sum == nil {
			sum = make(Vector, len(v))
		}
		if len(v) != len(sum) {
			return nil, fmt.Errorf("embed window %d: got %d dims, want %d", i+1, len(v), len(sum))
		}
		for j, x := range v {
			sum[j] += x
		}
	}
	n := float32(len(windows))
	for j := range sum {
		sum[j] /= n
	}
	return Normalize(sum), nil
}

func (p *Pooled) Dims() int { return p.next.Dims() }
