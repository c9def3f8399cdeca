package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/embedcache"
	"github.com/54b3r/docrag-go/internal/loader"
	"github.com/54b3r/docrag-go/internal/rag"
)

// ErrNilDependency is returned by New when a required collaborator is nil.
var ErrNilDependency = errors.New("engine: required dependency is nil")

// DedupeMode selects the scope of normalized-text deduplication at ingest.
type DedupeMode string

const (
	// DedupeBatch drops duplicate chunks within one ingest call only. The
	// same text from two sources, or from two ingests, is kept.
	DedupeBatch DedupeMode = "batch"
	// DedupeSource additionally skips a chunk when the same source already
	// has a chunk with the same normalized text in the index, so
	// re-ingesting an unchanged document adds nothing.
	DedupeSource DedupeMode = "source"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultK                = 5
	DefaultBatchSize        = 64
	DefaultEmbedConcurrency = 4
	DefaultEmbedTimeout     = 60 * time.Second
	DefaultGenerateTimeout  = 120 * time.Second
)

// Config wires an Engine. Index and Embedder are required; everything else
// has a default.
type Config struct {
	// Index is the dense vector index backend.
	Index rag.VectorIndex
	// Embedder produces vectors for chunks and questions.
	Embedder rag.Embedder
	// Generator answers questions from assembled prompts. Query fails with a
	// user error when it is nil; Search and Ingest do not need it.
	Generator rag.Generator
	// Loader reads documents for Ingest. Nil uses loader defaults.
	Loader *loader.Loader

	// Cache, when set, wraps Embedder so repeated texts are not re-embedded.
	Cache *embedcache.Cache
	// CacheModel identifies the embedding model in cache keys. Required
	// when Cache is set.
	CacheModel string

	// Chunking configures the chunker.
	Chunking chunker.Options
	// Dedupe selects the deduplication scope. Empty means DedupeBatch.
	Dedupe DedupeMode

	// Hybrid enables BM25 + dense retrieval fused with RRF.
	Hybrid bool
	// FusedK is the number of fused results in hybrid mode. Zero means
	// hybrid.DefaultFusedK; negative means use the caller's k.
	FusedK int
	// RRFKappa is the RRF damping constant. Zero means hybrid.DefaultKappa.
	RRFKappa float64

	// BatchSize is the number of texts per Embed call.
	BatchSize int
	// EmbedConcurrency bounds in-flight Embed calls during ingest.
	EmbedConcurrency int
	// EmbedTimeout bounds each Embed call.
	EmbedTimeout time.Duration
	// GenerateTimeout bounds each Generator call.
	GenerateTimeout time.Duration
	// MaxContextTokens bounds the assembled prompt. Zero disables trimming.
	MaxContextTokens int

	// Logger receives engine logs. Nil uses slog.Default.
	Logger *slog.Logger
	// MetricsRegistry receives engine metrics. Nil uses a private registry.
	MetricsRegistry prometheus.Registerer
}

// withDefaults validates a copy of cfg and fills zero values.
func (cfg *Config) withDefaults() (Config, error) {
	if cfg == nil || cfg.Index == nil || cfg.Embedder == nil {
		return Config{}, ErrNilDependency
	}
	c := *cfg
	if c.Cache != nil && c.CacheModel == "" {
		return c, rag.Errorf(rag.KindUser, "engine: config", "cache model name is required when a cache is configured")
	}
	if c.Chunking == (chunker.Options{}) {
		c.Chunking = chunker.DefaultOptions()
	}
	// a partially set window keeps its explicit bounds
	if c.Chunking.MinSize == 0 && c.Chunking.MaxSize > 0 {
		c.Chunking.MinSize = min(chunker.DefaultMinSize, c.Chunking.MaxSize)
	}
	if c.Chunking.MaxSize == 0 && c.Chunking.MinSize > 0 {
		c.Chunking.MaxSize = max(chunker.DefaultMaxSize, c.Chunking.MinSize)
	}
	if err := c.Chunking.Validate(); err != nil {
		return c, rag.E(rag.KindUser, "engine: config", err)
	}
	switch c.Dedupe {
	case "":
		c.Dedupe = DedupeBatch
	case DedupeBatch, DedupeSource:
	default:
		return c, rag.Errorf(rag.KindUser, "engine: config", "unknown dedupe mode %q (valid: batch, source)", c.Dedupe)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = DefaultEmbedConcurrency
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = DefaultEmbedTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Loader == nil {
		c.Loader = loader.New(loader.Options{}, c.Logger)
	}
	if c.MetricsRegistry == nil {
		c.MetricsRegistry = prometheus.NewRegistry()
	}
	return c, nil
}
