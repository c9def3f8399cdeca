package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/docrag-go/internal/rag"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
	// delay is slept before returning, honoring ctx.
	delay time.Duration
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func ready(t *testing.T, s *Server) (int, readyResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var body readyResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, body
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] == "" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	code, body := ready(t, newTestServer())
	if code != http.StatusOK || !body.Ready {
		t.Errorf("expected ready 200, got %d %+v", code, body)
	}
	if len(body.Checks) != 0 {
		t.Errorf("expected no checks, got %d", len(body.Checks))
	}
	if body.Index.Kind != rag.StoreFlat || body.Index.Size != 3 {
		t.Errorf("index summary: %+v", body.Index)
	}
}

func TestHandleReady_MixedResultsKeepOrder(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.pingers = []Pinger{
		&fakePinger{name: "qdrant", delay: 20 * time.Millisecond},
		&fakePinger{name: "ollama", err: errors.New("connection refused")},
		&fakePinger{name: "ollama-embedder"},
	}

	code, body := ready(t, s)
	if code != http.StatusServiceUnavailable || body.Ready {
		t.Fatalf("expected 503 not ready, got %d %+v", code, body)
	}
	want := []struct {
		name string
		ok   bool
	}{{"qdrant", true}, {"ollama", false}, {"ollama-embedder", true}}
	if len(body.Checks) != len(want) {
		t.Fatalf("expected %d checks, got %d", len(want), len(body.Checks))
	}
	for i, w := range want {
		c := body.Checks[i]
		if c.Name != w.name || c.OK != w.ok {
			t.Errorf("check %d: got %+v, want name=%s ok=%v", i, c, w.name, w.ok)
		}
	}
	if body.Checks[1].Error != "connection refused" {
		t.Errorf("error message: %q", body.Checks[1].Error)
	}
	if got := testutil.ToFloat64(s.metrics.probeFailuresTotal.WithLabelValues("ollama")); got != 1 {
		t.Errorf("probe failure counter: expected 1, got %v", got)
	}
}

func TestHandleReady_ProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	for _, n := range []string{"a", "b", "c", "d"} {
		s.pingers = append(s.pingers, &fakePinger{name: n, delay: 100 * time.Millisecond})
	}

	start := time.Now()
	code, _ := ready(t, s)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > 350*time.Millisecond {
		t.Errorf("probes appear to run serially: took %s", elapsed)
	}
}
