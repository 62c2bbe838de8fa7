// Package embedding turns block text into fixed-length vectors.
//
// The vector index treats an Embedder as an opaque function. Providers talk
// to Ollama or an OpenAI-compatible API; HashEmbedder runs offline and is
// deterministic, which the tests rely on. Cached and Pooled wrap any
// provider.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/log"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config selects and tunes an embedder.
type Config struct {
	Provider  string
	Model     string
	URL       string
	APIKey    string
	Dims      int
	CacheSize int64 // max cached vectors; 0 disables the cache
	MaxRunes  int   // texts longer than this are embedded in windows and pooled
}

// New builds the embedder described by cfg. An empty provider selects the
// hash embedder.
func New(cfg Config, logger *log.Logger) (Embedder, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("embedding")

	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHash:
		e = NewHashEmbedder(cfg.Dims)
	case ProviderOllama:
		e, err = NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dims)
	case ProviderOpenAI:
		e = NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxRunes > 0 {
		e = NewPooled(e, cfg.MaxRunes)
	}
	if cfg.CacheSize > 0 {
		c, err := NewCached(e, cfg.Provider+"/"+cfg.Model, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		e = c
	}
	logger.Debug("embedder ready", "provider", cfg.Provider, "model", cfg.Model, "dims", e.Dims(), "cache", cfg.CacheSize)
	return e, nil
}

// ContentHash is the hex SHA-256 of text. It identifies the content a vector
// was computed from.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
func Normalize(v Vector) Vector {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
