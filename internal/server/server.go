// Package server implements the HTTP server that exposes the retrieval
// engine via a small JSON API: ingest, query, search, cache statistics and
// query history, plus health, readiness and Prometheus endpoints.
// The server is started by the `docrag serve` CLI command.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docrag-go/internal/logging"
)

// Defaults applied by New to zero-valued Config fields.
const (
	defaultHost            = "127.0.0.1"
	defaultPort            = 8080
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 15 * time.Minute // covers a full directory ingest
	defaultShutdownTimeout = 10 * time.Second
	defaultQueryTimeout    = 3 * time.Minute
	defaultK               = 5
)

func (c Config) withDefaults() Config {
	c.Host = cmp.Or(c.Host, defaultHost)
	c.Port = cmp.Or(c.Port, defaultPort)
	c.ReadTimeout = cmp.Or(c.ReadTimeout, defaultReadTimeout)
	c.WriteTimeout = cmp.Or(c.WriteTimeout, defaultWriteTimeout)
	c.ShutdownTimeout = cmp.Or(c.ShutdownTimeout, defaultShutdownTimeout)
	c.QueryTimeout = cmp.Or(c.QueryTimeout, defaultQueryTimeout)
	c.RateLimit = cmp.Or(c.RateLimit, defaultRateLimit)
	c.RateBurst = cmp.Or(c.RateBurst, defaultRateBurst)
	c.DefaultK = cmp.Or(c.DefaultK, defaultK)
	if c.Logger == nil {
		c.Logger = logging.New()
	}
	if c.MetricsRegistry == nil {
		c.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if c.MetricsGatherer == nil {
		c.MetricsGatherer = prometheus.DefaultGatherer
	}
	return c
}

// New wires a Server around b. A nil cfg uses the defaults.
func New(b Backend, cfg *Config) (*Server, error) {
	if b == nil {
		return nil, errors.New("server: backend must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	resolved := cfg.withDefaults()
	cfg = &resolved

	s := &Server{
		backend: b,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		history: cfg.History,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: authentication disabled, set DOCRAG_API_KEY to protect /api routes")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	rl.onReject = func(*http.Request) { s.metrics.rateLimitedTotal.Inc() }
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the handler tree. Health, readiness and metrics are public;
// everything else under /api requires the API key when one is configured.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(s.cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	mux.Handle("POST /api/ingest", s.instrument("ingest", protect(s.handleIngest)))
	mux.Handle("POST /api/query", s.instrument("query", protect(s.handleQuery)))
	mux.Handle("POST /api/search", s.instrument("search", protect(s.handleSearch)))
	mux.Handle("GET /api/stats", s.instrument("stats", protect(s.handleStats)))
	mux.Handle("GET /api/cache/stats", s.instrument("cache_stats", protect(s.handleCacheStats)))
	mux.Handle("GET /api/history", s.instrument("history", protect(s.handleHistory)))

	return requestLogger(s.log, mux)
}

// Handler returns the fully wired HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.stopRL()
		return fmt.Errorf("server: listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within ShutdownTimeout. In-flight ingests that outlive the
// timeout are cut off.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.stopRL()
	s.log.Info("server listening", slog.String("addr", "http://"+ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: graceful shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}
