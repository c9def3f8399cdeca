package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// probeTimeout bounds each dependency probe during a readiness check.
const probeTimeout = 5 * time.Second

// Pinger reports whether a remote dependency is reachable. Implementations
// must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is healthy.
	Ping(ctx context.Context) error
	// Name is the label used in readiness responses (e.g. "qdrant").
	Name() string
}

// readyCheck is one dependency's probe result.
type readyCheck struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the probe succeeded.
	OK bool `json:"ok"`
	// LatencyMS is how long the probe took.
	LatencyMS int64 `json:"latency_ms"`
	// Error is the failure reason when OK is false.
	Error string `json:"error,omitempty"`
}

// readyIndex summarizes the vector index in readiness responses.
type readyIndex struct {
	// Kind is the index backend.
	Kind rag.StoreKind `json:"kind"`
	// Size is the number of indexed chunks.
	Size int `json:"size"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every probe succeeded.
	Ready bool `json:"ready"`
	// Index describes the vector index being served.
	Index readyIndex `json:"index"`
	// Checks holds one result per pinger, in registration order.
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. Probes run concurrently, each with
// probeTimeout; the response is 200 when all succeed and 503 otherwise. An
// empty index is still ready: it answers every query with a no-data reply.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(ctx)
			checks[i] = readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
			s.metrics.probeFailuresTotal.WithLabelValues(c.Name).Inc()
			log.Warn("readiness probe failed", slog.String("dependency", c.Name), slog.String("error", c.Error))
		}
	}
	if s.backend != nil {
		st := s.backend.Stats()
		resp.Index = readyIndex{Kind: st.Kind, Size: st.Size}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
