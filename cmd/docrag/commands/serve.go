package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/server"
	"github.com/54b3r/docrag-go/internal/store"
	"github.com/54b3r/docrag-go/internal/tracing"
	"github.com/54b3r/docrag-go/internal/vectorindex"
	"github.com/54b3r/docrag-go/internal/watch"
)

// NewServeCmd constructs the `docrag serve` command, which exposes the engine
// over HTTP and optionally re-ingests a directory as it changes.
func NewServeCmd() *cobra.Command {
	var (
		host       string
		port       int
		watchDir   string
		ingestRoot string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docrag HTTP API",
		Long: `Start the docrag HTTP server.

Routes:
  POST /api/ingest       {"path": "..."}
  POST /api/query        {"question": "...", "k": 5}
  POST /api/search       {"question": "...", "k": 5}
  GET  /api/stats        index kind, size and dimension
  GET  /api/cache/stats  embedding cache statistics
  GET  /api/history      recent queries (?limit=n)
  GET  /api/health       liveness
  GET  /api/ready        readiness (Qdrant, Ollama)
  GET  /metrics          Prometheus metrics

Set DOCRAG_API_KEY to require "Authorization: Bearer <key>" on /api routes
other than health and ready.

Examples:
  docrag serve
  docrag serve --port 9090 --watch ./docs
  RAG_INDEX_KIND=qdrant docrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			ctx = logging.WithLogger(ctx, log)

			flush, enabled := tracing.Install(tracing.FromEnv())
			if enabled {
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			rt, err := buildEngine(ctx, log, engineOptions{
				generator: true,
				registry:  prometheus.DefaultRegisterer,
				reingest:  watchDir != "",
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = rt.Close() }()

			var history store.HistoryStore
			if rt.rag.HistoryDB != "" {
				hs, err := store.Open(rt.rag.HistoryDB)
				if err != nil {
					log.Warn("history: failed to open store, disabling", slog.Any("error", err))
				} else {
					history = hs
					defer func() { _ = hs.Close() }()
					log.Info("history: store opened", slog.String("path", rt.rag.HistoryDB))
					if n, err := hs.Prune(ctx, getEnvInt(config.EnvHistoryMax, defaultHistoryMax)); err != nil {
						log.Warn("history: prune failed", slog.Any("error", err))
					} else if n > 0 {
						log.Info("history: pruned old entries", slog.Int64("removed", n))
					}
				}
			} else {
				log.Info("history: disabled via " + config.EnvHistoryDB + "=disabled")
			}

			srv, err := server.New(rt.engine, &server.Config{
				Host:       host,
				Port:       port,
				Logger:     log,
				Pingers:    buildPingers(rt, log),
				APIKey:     getEnvOrDefault(config.EnvAPIKey, ""),
				DefaultK:   rt.rag.TopK,
				IngestRoot: ingestRoot,
				History:    history,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			var watcher *watch.Watcher
			if watchDir != "" {
				watcher, err = watch.New(watchDir, rt.engine, watch.Options{Logger: log})
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			if watcher != nil {
				g.Go(func() error { return watcher.Run(gctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault(config.EnvHost, "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt(config.EnvPort, 8080), "TCP port to listen on")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Directory to re-ingest when its files change (forces source dedupe)")
	cmd.Flags().StringVar(&ingestRoot, "ingest-root", "", "Restrict POST /api/ingest paths to this directory")

	return cmd
}

// defaultHistoryMax is how many history entries survive a restart.
const defaultHistoryMax = 10000

// buildPingers returns readiness probes for the remote dependencies in use.
func buildPingers(rt *runtime, log *slog.Logger) []server.Pinger {
	var pingers []server.Pinger

	if q, ok := rt.index.(*vectorindex.Qdrant); ok {
		pingers = append(pingers, server.NewQdrantPinger(q.Client()))
	}

	if rt.embedding.Backend == "ollama" {
		host := getEnvOrDefault("EMBEDDING_ENDPOINT", getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"))
		pingers = append(pingers, server.NewOllamaPinger("ollama-embedder", host, rt.embedding.Model))
	}
	if rt.provider != nil && rt.provider.Backend == provider.BackendOllama {
		pingers = append(pingers, server.NewOllamaPinger("ollama", rt.provider.Ollama.Host, rt.provider.Ollama.Model))
	}

	names := make([]string, len(pingers))
	for i, p := range pingers {
		names[i] = p.Name()
	}
	log.Info("readiness probes configured", slog.Any("pingers", names))
	return pingers
}
