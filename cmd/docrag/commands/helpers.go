package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/answer"
	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/embedcache"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/engine"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/vectorindex"
)

// engineOptions selects the optional parts of an engine built from the
// environment.
type engineOptions struct {
	// generator builds a chat model so Query can answer.
	generator bool
	// registry receives the engine metrics. Nil keeps them private.
	registry prometheus.Registerer
	// reingest marks an engine that will see the same files repeatedly.
	// It forces source-scoped dedupe so unchanged chunks are not re-added.
	reingest bool
}

// runtime is an opened engine plus what it was built from.
type runtime struct {
	// engine is the opened engine.
	engine *engine.Engine
	// rag is the resolved retrieval configuration.
	rag config.RAG
	// embedding describes the embedding backend.
	embedding embedder.Info
	// index is the vector index the engine wraps.
	index rag.VectorIndex
	// provider is the chat provider config, nil without a generator.
	provider *provider.Config
}

// Close releases the index.
func (r *runtime) Close() error { return r.engine.Close() }

// buildEngine resolves configuration from the environment, constructs the
// embedder, index, cache and (optionally) generator, and opens the engine
// so a previously persisted index is loaded.
func buildEngine(ctx context.Context, log *slog.Logger, opts engineOptions) (*runtime, error) {
	ragCfg, err := config.RAGFromEnv()
	if err != nil {
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, info, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("backend", info.Backend), slog.String("model", info.Model))

	var cache *embedcache.Cache
	if ragCfg.CacheDir != "" {
		cache, err = embedcache.Open(ragCfg.CacheDir, log)
		if err != nil {
			return nil, err
		}
	}

	rt := &runtime{rag: ragCfg, embedding: info}
	var gen rag.Generator
	if opts.generator {
		chatModel, pcfg, err := provider.NewFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise model provider: %w", err)
		}
		gen = answer.NewChatGenerator(chatModel)
		rt.provider = pcfg
		log.Info("provider initialised", slog.String("provider", string(pcfg.Backend)), slog.String("model", pcfg.ModelName()))
	}

	idx, err := vectorindex.New(vectorindex.Config{
		Kind: rag.StoreKind(ragCfg.IndexKind),
		Dir:  ragCfg.IndexDir,
		Qdrant: vectorindex.QdrantConfig{
			Host:       ragCfg.Qdrant.Host,
			Port:       ragCfg.Qdrant.Port,
			Collection: ragCfg.Qdrant.Collection,
			APIKey:     ragCfg.Qdrant.APIKey,
			UseTLS:     ragCfg.Qdrant.TLS,
		},
	})
	if err != nil {
		return nil, err
	}
	rt.index = idx

	dedupe := engine.DedupeMode(ragCfg.Dedupe)
	if opts.reingest && dedupe != engine.DedupeSource {
		log.Info("watch: using source dedupe so unchanged chunks are skipped on re-ingest",
			slog.String("configured", string(dedupe)))
		dedupe = engine.DedupeSource
	}

	eng, err := engine.New(&engine.Config{
		Index:     idx,
		Embedder:  emb,
		Generator: gen,
		Cache:     cache,
		// the embedding model is folded into cache keys
		CacheModel: info.Backend + "/" + info.Model,
		Chunking: chunker.Options{
			MinSize:    ragCfg.ChunkMin,
			MaxSize:    ragCfg.ChunkMax,
			OverlapPct: ragCfg.ChunkOverlap,
		},
		Dedupe:           dedupe,
		Hybrid:           ragCfg.Hybrid,
		FusedK:           ragCfg.FusedK,
		RRFKappa:         ragCfg.RRFKappa,
		BatchSize:        ragCfg.BatchSize,
		EmbedConcurrency: ragCfg.Concurrency,
		EmbedTimeout:     ragCfg.EmbedTimeout,
		GenerateTimeout:  ragCfg.GenerateTimeout,
		MaxContextTokens: ragCfg.MaxContextTokens,
		Logger:           log,
		MetricsRegistry:  opts.registry,
	})
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	rt.engine = eng

	loaded, err := eng.Open(ctx)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	st := eng.Stats()
	log.Info("index opened",
		slog.String("kind", string(st.Kind)),
		slog.Bool("restored", loaded),
		slog.Int("size", st.Size),
		slog.Bool("hybrid", st.Hybrid),
	)
	return rt, nil
}

func asIngestError(err error) (*rag.IngestError, bool) {
	var ie *rag.IngestError
	ok := errors.As(err, &ie)
	return ie, ok
}

// getEnvOrDefault returns the value of the environment variable key, or
// defaultVal if the variable is unset or empty.
func getEnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt returns the integer value of key, or defaultVal when unset or
// not a number.
func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
