package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const DefaultHashDims = 256

// HashEmbedder maps each lower-cased token to a signed bucket with FNV-1a
// and normalises the sum. Texts sharing words score closer than texts that
// don't. The last dimension is a constant bias so no vector is zero.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims < 2 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make(Vector, e.dims)
	buckets := uint64(e.dims - 1)
	for _, tok := range tokens(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		v[sum%buckets] += sign
	}
	v[e.dims-1] = 0.5
	return Normalize(v), nil
}

func (e *HashEmbedder) Dims() int { return e.dims }

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
