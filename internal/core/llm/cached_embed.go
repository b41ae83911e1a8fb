package llm

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/markdave123-py/Contexta/internal/core"
)

// CachedEmbedder memoises vectors per text in an LRU cache. Only the
// distinct texts missing from the cache reach the inner embedder.
type CachedEmbedder struct {
	inner core.Embedder
	cache *lru.Cache[string, []float32]
}

var _ core.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(inner core.Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be greater than zero")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missing := make(map[string][]int)
	var order []string
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = cloneVector(v)
			continue
		}
		if _, seen := missing[t]; !seen {
			order = append(order, t)
		}
		missing[t] = append(missing[t], i)
	}
	if len(order) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, order)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(order) {
		return nil, fmt.Errorf("cached embed: got %d vectors for %d texts", len(vecs), len(order))
	}
	for k, t := range order {
		c.cache.Add(t, cloneVector(vecs[k]))
		for _, i := range missing[t] {
			out[i] = cloneVector(vecs[k])
		}
	}
	return out, nil
}

// Len is the number of cached texts.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

func cloneVector(v []float32) []float32 {
	return append([]float32(nil), v...)
}
