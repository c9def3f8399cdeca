package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/loader"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
	"github.com/54b3r/docrag-go/internal/version"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// defaultHistoryLimit is used when GET /api/history omits limit.
const defaultHistoryLimit = 20

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// handleIngest handles POST /api/ingest. Ingests are serialized by the
// engine, so a second request waits for the first.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req ingestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		writeError(w, r, rag.Errorf(rag.KindUser, "server: ingest", "path is required"))
		return
	}
	if !s.ingestAllowed(req.Path) {
		writeError(w, r, rag.Errorf(rag.KindUser, "server: ingest", "path is outside the configured ingest root"))
		return
	}

	s.metrics.ingestActive.Inc()
	defer s.metrics.ingestActive.Dec()

	res, err := s.backend.Ingest(r.Context(), req.Path)
	if err != nil {
		log.Warn("ingest failed", slog.String("path", req.Path), slog.Any("error", err))
		resp := ingestResponse{Result: res, Error: err.Error(), Kind: rag.KindOf(err).String()}
		var ie *rag.IngestError
		if errors.As(err, &ie) {
			resp.Stage = ie.Stage
		}
		writeJSON(w, r, statusFor(err), resp)
		return
	}
	writeJSON(w, r, http.StatusOK, ingestResponse{Result: res})
}

// ingestAllowed reports whether path may be ingested under IngestRoot.
// Symlinks are resolved on both sides.
func (s *Server) ingestAllowed(path string) bool {
	if s.cfg.IngestRoot == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return true
	}
	return loader.Within(s.cfg.IngestRoot, path)
}

// handleQuery handles POST /api/query. When generation fails after
// retrieval, the passages are still returned alongside the error.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	k := s.k(req.K)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.backend.Query(ctx, req.Question, k)
	elapsed := time.Since(start)
	s.record(r.Context(), req.Question, res, err, elapsed)

	outcome := "ok"
	if err != nil {
		outcome = rag.KindOf(err).String()
	}
	s.metrics.apiRequestsTotal.WithLabelValues("query", outcome).Inc()
	s.metrics.apiDurationSeconds.WithLabelValues("query").Observe(elapsed.Seconds())

	if err != nil {
		if res == nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, statusFor(err), queryResponse{
			AnswerResult: res,
			Error:        err.Error(),
			Kind:         rag.KindOf(err).String(),
		})
		return
	}
	writeJSON(w, r, http.StatusOK, queryResponse{AnswerResult: res})
}

// handleSearch handles POST /api/search: retrieval only, no generation.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	passages, err := s.backend.Search(ctx, req.Question, s.k(req.K))
	s.metrics.apiDurationSeconds.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.apiRequestsTotal.WithLabelValues("search", rag.KindOf(err).String()).Inc()
		writeError(w, r, err)
		return
	}
	s.metrics.apiRequestsTotal.WithLabelValues("search", "ok").Inc()
	writeJSON(w, r, http.StatusOK, searchResponse{Passages: passages, VectorStoreKind: s.backend.Stats().Kind})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.backend.Stats())
}

// handleCacheStats handles GET /api/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.CacheStats()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// handleHistory handles GET /api/history?limit=n.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, r, rag.Errorf(rag.KindNotFound, "server: history", "query history is disabled"))
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, rag.Errorf(rag.KindUser, "server: history", "limit must be an integer in [1, 1000]"))
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// record appends the query to history. Failures are logged, never returned.
func (s *Server) record(ctx context.Context, question string, res *rag.AnswerResult, qerr error, elapsed time.Duration) {
	if s.history == nil || rag.KindOf(qerr) == rag.KindUser {
		return
	}
	e := store.Entry{Question: question, Duration: elapsed}
	if res != nil {
		e.Answer = res.Answer
		e.StoreKind = string(res.VectorStoreKind)
		for _, p := range res.Passages {
			e.Sources = append(e.Sources, p.Source)
		}
	}
	if qerr != nil {
		e.Error = qerr.Error()
	}
	if err := s.history.Append(context.WithoutCancel(ctx), e); err != nil {
		logging.FromContext(ctx).Warn("history append failed", slog.Any("error", err))
	}
}

func (s *Server) k(requested int) int {
	if requested <= 0 {
		return s.cfg.DefaultK
	}
	return requested
}

// statusFor maps an error classification to an HTTP status.
func statusFor(err error) int {
	switch rag.KindOf(err) {
	case rag.KindUser:
		return http.StatusBadRequest
	case rag.KindNotFound:
		return http.StatusNotFound
	case rag.KindProvider:
		return http.StatusBadGateway
	case rag.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error body with the mapped status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		logging.FromContext(r.Context()).Error("request failed", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error(), Kind: rag.KindOf(err).String()})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// decodeJSON reads a bounded JSON body into v, replying 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, rag.Errorf(rag.KindUser, "server: decode", "invalid request body: %v", err))
		return false
	}
	return true
}
