package embedcache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/54b3r/docrag-go/internal/rag"
)

// CachingEmbedder wraps a rag.Embedder with a Cache. Only texts missing from
// the cache reach the wrapped embedder, and each distinct miss is embedded
// once per call.
type CachingEmbedder struct {
	// inner produces vectors for cache misses.
	inner rag.Embedder
	// cache stores vectors keyed by (model, text).
	cache *Cache
	// model is the embedding model name folded into every cache key.
	model string
	// hits and misses count lookups since construction.
	hits, misses atomic.Int64
}

// NewCachingEmbedder returns an embedder that consults cache before inner.
// model must identify the embedding model so vectors from different models
// never share an entry.
func NewCachingEmbedder(inner rag.Embedder, cache *Cache, model string) *CachingEmbedder {
	return &CachingEmbedder{inner: inner, cache: cache, model: model}
}

// Embed returns vectors parallel to texts.
func (e *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// hit holds vectors already found in the cache during this call.
	hit := make(map[string][]float32)
	// missAt maps each distinct missing text to the input slots that need it.
	missAt := make(map[string][]int)
	var missing []string
	for i, t := range texts {
		if vec, ok := hit[t]; ok {
			out[i] = vec
			continue
		}
		if slots, ok := missAt[t]; ok {
			missAt[t] = append(slots, i)
			continue
		}
		if vec, ok := e.cache.Get(t, e.model); ok {
			e.hits.Add(1)
			hit[t] = vec
			out[i] = vec
			continue
		}
		e.misses.Add(1)
		missAt[t] = []int{i}
		missing = append(missing, t)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, rag.Errorf(rag.KindProvider, "embedcache: embed",
			"embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for k, t := range missing {
		if len(vecs[k]) == 0 {
			return nil, rag.Errorf(rag.KindProvider, "embedcache: embed",
				"embedder returned an empty vector for text %q", rag.Truncate(t, 64))
		}
		e.cache.Put(t, e.model, vecs[k])
		for _, i := range missAt[t] {
			out[i] = vecs[k]
		}
	}
	return out, nil
}

// Counts returns the cache hits and misses observed so far.
func (e *CachingEmbedder) Counts() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

// Cache returns the underlying cache.
func (e *CachingEmbedder) Cache() *Cache { return e.cache }

// Model returns the model name used in cache keys.
func (e *CachingEmbedder) Model() string { return e.model }

// String describes the embedder for logs.
func (e *CachingEmbedder) String() string {
	return fmt.Sprintf("cached(%s @ %s)", e.model, e.cache.Dir())
}
