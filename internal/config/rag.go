package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by RAGFromEnv.
const (
	EnvIndexKind        = "RAG_INDEX_KIND"
	EnvIndexDir         = "RAG_INDEX_DIR"
	EnvChunkMin         = "RAG_CHUNK_MIN"
	EnvChunkMax         = "RAG_CHUNK_MAX"
	EnvChunkOverlap     = "RAG_CHUNK_OVERLAP"
	EnvHybrid           = "RAG_HYBRID"
	EnvTopK             = "RAG_TOP_K"
	EnvFusedK           = "RAG_FUSED_K"
	EnvRRFKappa         = "RAG_RRF_KAPPA"
	EnvBatchSize        = "RAG_BATCH_SIZE"
	EnvConcurrency      = "RAG_EMBED_CONCURRENCY"
	EnvDedupe           = "RAG_DEDUPE"
	EnvEmbedTimeout     = "RAG_EMBED_TIMEOUT"
	EnvGenerateTimeout  = "RAG_GENERATE_TIMEOUT"
	EnvMaxContextTokens = "RAG_MAX_CONTEXT_TOKENS"
	EnvCacheDir         = "RAG_CACHE_DIR"
	EnvCacheDisabled    = "RAG_CACHE_DISABLED"
	EnvHistoryDB        = "DOCRAG_HISTORY_DB"
	EnvHistoryMax       = "DOCRAG_HISTORY_MAX"

	EnvHost   = "DOCRAG_HOST"
	EnvPort   = "DOCRAG_PORT"
	EnvAPIKey = "DOCRAG_API_KEY"
)

// RAG is the resolved retrieval configuration used to build an engine.
// Zero numeric fields mean "use the engine default".
type RAG struct {
	// IndexKind is flat, collection, or qdrant.
	IndexKind string
	// IndexDir is the flat/collection index directory.
	IndexDir string
	// Qdrant holds the qdrant connection settings.
	Qdrant QdrantConfig

	// ChunkMin, ChunkMax and ChunkOverlap configure the chunk window.
	ChunkMin     int
	ChunkMax     int
	ChunkOverlap float64

	// Hybrid enables BM25 + dense fusion.
	Hybrid bool
	// TopK is the default number of passages per query.
	TopK int
	// FusedK is the number of fused results in hybrid mode.
	FusedK int
	// RRFKappa is the RRF damping constant.
	RRFKappa float64

	// BatchSize is the number of texts per embedding call.
	BatchSize int
	// Concurrency bounds in-flight embedding calls.
	Concurrency int
	// Dedupe is batch or source.
	Dedupe string
	// EmbedTimeout bounds each embedding call.
	EmbedTimeout time.Duration
	// GenerateTimeout bounds each generation call.
	GenerateTimeout time.Duration
	// MaxContextTokens bounds the assembled prompt.
	MaxContextTokens int

	// CacheDir is the embedding cache directory; empty when disabled.
	CacheDir string

	// HistoryDB is the query history database path; empty when disabled.
	HistoryDB string
}

// RAGFromEnv resolves RAG settings from the environment, applying
// ~/.docrag defaults for the directories. Malformed numbers and durations
// are reported with the offending variable name.
func RAGFromEnv() (RAG, error) {
	home, err := HomeDir()
	if err != nil {
		return RAG{}, err
	}

	p := &envParser{}
	r := RAG{
		IndexKind: strings.ToLower(getEnvOrDefault(EnvIndexKind, "flat")),
		IndexDir:  getEnvOrDefault(EnvIndexDir, filepath.Join(home, "index")),
		Qdrant: QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       p.int("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "docrag"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			TLS:        p.bool("QDRANT_TLS"),
		},
		ChunkMin:         p.int(EnvChunkMin, 0),
		ChunkMax:         p.int(EnvChunkMax, 0),
		ChunkOverlap:     p.float(EnvChunkOverlap, 0),
		Hybrid:           p.bool(EnvHybrid),
		TopK:             p.int(EnvTopK, 5),
		FusedK:           p.int(EnvFusedK, 0),
		RRFKappa:         p.float(EnvRRFKappa, 0),
		BatchSize:        p.int(EnvBatchSize, 0),
		Concurrency:      p.int(EnvConcurrency, 0),
		Dedupe:           strings.ToLower(os.Getenv(EnvDedupe)),
		EmbedTimeout:     p.duration(EnvEmbedTimeout),
		GenerateTimeout:  p.duration(EnvGenerateTimeout),
		MaxContextTokens: p.int(EnvMaxContextTokens, 6000),
		CacheDir:         getEnvOrDefault(EnvCacheDir, filepath.Join(home, "cache")),
		HistoryDB:        getEnvOrDefault(EnvHistoryDB, filepath.Join(home, "history.db")),
	}
	if p.bool(EnvCacheDisabled) {
		r.CacheDir = ""
	}
	if r.HistoryDB == "disabled" {
		r.HistoryDB = ""
	}
	if p.err != nil {
		return RAG{}, p.err
	}
	return r, nil
}

// envParser reads typed env vars, keeping the first parse error.
type envParser struct {
	err error
}

func (p *envParser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: invalid %s=%q: %w", key, val, err)
	}
}

func (p *envParser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *envParser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *envParser) bool(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return false
	}
	return b
}

func (p *envParser) duration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return 0
	}
	return d
}

// getEnvOrDefault returns the value of key, or def when unset or empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
