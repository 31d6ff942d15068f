package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder converts free text into a numeric vector representation.
// The same embedder must serve both indexing and querying; mixing models
// breaks similarity semantics.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder memoizes embeddings by exact text. Placeholder documents
// for rating-only reviews repeat often, so the cache saves real API calls,
// and memoization keeps same-text-same-vector true even for remote backends.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// Cached wraps inner with an LRU of the given size (minimum 16).
func Cached(inner Embedder, size int) (*CachedEmbedder, error) {
	if size < 16 {
		size = 16
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: c}, nil
}

func (c *CachedEmbedder) Name() string { return c.inner.Name() }

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}
