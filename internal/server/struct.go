package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/engine"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover the longest ingest the server is expected to run.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds a single /api/query or /api/search request.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// DefaultK is the number of passages used when a request omits k.
	DefaultK int
	// IngestRoot, when set, restricts POST /api/ingest to local paths under
	// this directory. Remote URLs are always accepted.
	IngestRoot string
	// History records every query. Nil disables GET /api/history.
	History store.HistoryStore
	// MetricsRegistry receives server metrics. If nil, prometheus.DefaultRegisterer is used.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. If nil, prometheus.DefaultGatherer is used.
	MetricsGatherer prometheus.Gatherer
}

// Backend is the retrieval engine the handlers call.
// *engine.Engine satisfies it; tests inject a fake.
type Backend interface {
	// Ingest loads and indexes path.
	Ingest(ctx context.Context, path string) (*engine.IngestResult, error)
	// Query retrieves passages and generates an answer.
	Query(ctx context.Context, question string, k int) (*rag.AnswerResult, error)
	// Search retrieves passages without generating.
	Search(ctx context.Context, question string, k int) ([]rag.Passage, error)
	// CacheStats reports the embedding cache state.
	CacheStats() (engine.CacheStats, error)
	// Stats describes the index.
	Stats() engine.Stats
}

// Server is the HTTP server that exposes the retrieval engine.
type Server struct {
	// backend handles ingest, query and search.
	backend Backend
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// history records queries; nil when disabled.
	history store.HistoryStore
	// metrics holds the Prometheus instruments for this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Path is a file, directory, or http(s) URL.
	Path string `json:"path"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	// Result describes what was indexed. Present on partial failures too.
	Result *engine.IngestResult `json:"result,omitempty"`
	// Stage is the failing pipeline stage, empty on success.
	Stage rag.Stage `json:"stage,omitempty"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// Kind is the error classification, empty on success.
	Kind string `json:"kind,omitempty"`
}

// queryRequest is the JSON body for POST /api/query and POST /api/search.
type queryRequest struct {
	// Question is the natural language question.
	Question string `json:"question"`
	// K is the number of passages to retrieve; zero uses the default.
	K int `json:"k"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	*rag.AnswerResult
	// Error is the generation failure message when passages were retrieved
	// but no answer could be produced.
	Error string `json:"error,omitempty"`
	// Kind is the error classification.
	Kind string `json:"kind,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Passages are the retrieved passages, best first.
	Passages []rag.Passage `json:"passages"`
	// VectorStoreKind is the index backend that served the search.
	VectorStoreKind rag.StoreKind `json:"vector_store_kind"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	// Error is the failure message.
	Error string `json:"error"`
	// Kind is the error classification.
	Kind string `json:"kind"`
}
