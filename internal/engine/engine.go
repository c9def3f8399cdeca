// Package engine is the retrieval orchestrator. It owns the ingest pipeline
// (load, chunk, dedupe, embed, index, persist) and the query path (retrieve,
// assemble, generate), and is the only component that touches every other
// part of the core. Collaborators are injected through Config so backends
// can be swapped without changing the orchestration.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/54b3r/docrag-go/internal/embedcache"
	"github.com/54b3r/docrag-go/internal/hybrid"
	"github.com/54b3r/docrag-go/internal/rag"
)

// snapshot is the immutable view of the index used for lexical retrieval
// and source-scoped deduplication. It is replaced wholesale after ingest.
type snapshot struct {
	// chunks mirrors the index, ordered by position.
	chunks []rag.Chunk
	// bm25 is nil unless hybrid retrieval is enabled.
	bm25 *hybrid.BM25
	// seen holds source + NUL + normalized text for every indexed chunk.
	seen map[string]struct{}
}

// Engine coordinates ingestion and retrieval over one vector index.
// Queries may run concurrently with each other and with a single ingest.
type Engine struct {
	cfg Config

	// index is the dense vector index.
	index rag.VectorIndex
	// embedder is cfg.Embedder, wrapped with the cache when configured.
	embedder rag.Embedder
	// cached is non-nil when embedder is a CachingEmbedder.
	cached *embedcache.CachingEmbedder

	// ingestMu serializes Ingest calls.
	ingestMu sync.Mutex
	// snap is swapped after each successful index write.
	snap atomic.Pointer[snapshot]

	metrics *engineMetrics
	log     *slog.Logger
}

// New validates cfg and builds an Engine. It does not touch the index; call
// Open to restore persisted state.
func New(cfg *Config) (*Engine, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      c,
		index:    c.Index,
		embedder: c.Embedder,
		log:      c.Logger.With("component", "engine"),
	}
	if c.Cache != nil {
		e.cached = embedcache.NewCachingEmbedder(c.Embedder, c.Cache, c.CacheModel)
		e.embedder = e.cached
	}
	e.metrics = newEngineMetrics(c.MetricsRegistry, e.cached)
	e.snap.Store(&snapshot{seen: map[string]struct{}{}})
	return e, nil
}

// Open loads persisted index state, if any, and builds the lexical snapshot.
// It returns whether anything was loaded.
func (e *Engine) Open(ctx context.Context) (bool, error) {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	ok, err := e.index.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("engine: open: %w", err)
	}
	e.rebuild()
	e.log.Info("index opened",
		"kind", e.index.Kind(),
		"loaded", ok,
		"size", e.index.Len(),
		"dim", e.index.Dim(),
	)
	return ok, nil
}

// rebuild replaces the snapshot from the current index contents.
func (e *Engine) rebuild() {
	chunks := e.index.Chunks()
	s := &snapshot{chunks: chunks, seen: make(map[string]struct{}, len(chunks))}
	for _, c := range chunks {
		s.seen[dedupeKey(c.SourceID, c.Text)] = struct{}{}
	}
	if e.cfg.Hybrid {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		s.bm25 = hybrid.NewBM25(texts)
	}
	e.snap.Store(s)
	e.metrics.indexSize.Set(float64(len(chunks)))
}

// Kind reports the active vector index backend.
func (e *Engine) Kind() rag.StoreKind { return e.index.Kind() }

// Stats describes the engine's index.
type Stats struct {
	// Kind is the vector index backend.
	Kind rag.StoreKind `json:"kind"`
	// Size is the number of indexed chunks.
	Size int `json:"size"`
	// Dim is the vector dimension, 0 for an empty index.
	Dim int `json:"dim"`
	// Hybrid reports whether lexical retrieval is enabled.
	Hybrid bool `json:"hybrid"`
	// Dedupe is the deduplication scope.
	Dedupe DedupeMode `json:"dedupe"`
}

// Stats returns a point-in-time description of the index.
func (e *Engine) Stats() Stats {
	return Stats{
		Kind:   e.index.Kind(),
		Size:   e.index.Len(),
		Dim:    e.index.Dim(),
		Hybrid: e.cfg.Hybrid,
		Dedupe: e.cfg.Dedupe,
	}
}

// CacheStats reports the embedding cache contents and the hit and miss
// counters since the engine started.
type CacheStats struct {
	embedcache.Stats
	// Enabled is false when no cache is configured; the other fields are zero.
	Enabled bool `json:"enabled"`
	// Hits is the number of lookups served from the cache.
	Hits int64 `json:"hits"`
	// Misses is the number of lookups that reached the embedder.
	Misses int64 `json:"misses"`
}

// CacheStats returns the embedding cache statistics.
func (e *Engine) CacheStats() (CacheStats, error) {
	if e.cached == nil {
		return CacheStats{}, nil
	}
	st, err := e.cached.Cache().Stats()
	if err != nil {
		return CacheStats{}, fmt.Errorf("engine: cache stats: %w", err)
	}
	hits, misses := e.cached.Counts()
	return CacheStats{Stats: st, Enabled: true, Hits: hits, Misses: misses}, nil
}

// ClearCache removes every cache entry and returns how many were removed.
func (e *Engine) ClearCache() (int, error) {
	if e.cached == nil {
		return 0, nil
	}
	n, err := e.cached.Cache().Clear()
	if err != nil {
		return n, fmt.Errorf("engine: clear cache: %w", err)
	}
	e.log.Info("embedding cache cleared", slog.Int("removed", n))
	return n, nil
}

// Close releases the vector index.
func (e *Engine) Close() error {
	if err := e.index.Close(); err != nil {
		return fmt.Errorf("engine: close: %w", err)
	}
	return nil
}

func dedupeKey(source, text string) string {
	return source + "\x00" + rag.NormalizeText(text)
}

// normalize returns v scaled to unit length. A zero vector is returned as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
