package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/engine"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeBackend implements Backend with canned results.
type fakeBackend struct {
	mu sync.Mutex
	// lastK is the k passed to the most recent Query or Search.
	lastK int
	// lastPath is the path passed to the most recent Ingest.
	lastPath string

	ingestRes *engine.IngestResult
	ingestErr error
	queryRes  *rag.AnswerResult
	queryErr  error
	passages  []rag.Passage
	searchErr error
	cache     engine.CacheStats
}

func (f *fakeBackend) Ingest(_ context.Context, path string) (*engine.IngestResult, error) {
	f.mu.Lock()
	f.lastPath = path
	f.mu.Unlock()
	return f.ingestRes, f.ingestErr
}

func (f *fakeBackend) Query(_ context.Context, _ string, k int) (*rag.AnswerResult, error) {
	f.mu.Lock()
	f.lastK = k
	f.mu.Unlock()
	return f.queryRes, f.queryErr
}

func (f *fakeBackend) Search(_ context.Context, _ string, k int) ([]rag.Passage, error) {
	f.mu.Lock()
	f.lastK = k
	f.mu.Unlock()
	return f.passages, f.searchErr
}

func (f *fakeBackend) CacheStats() (engine.CacheStats, error) { return f.cache, nil }

func (f *fakeBackend) Stats() engine.Stats {
	return engine.Stats{Kind: rag.StoreFlat, Size: 3, Dim: 8}
}

// fakeHistory is an in-process HistoryStore.
type fakeHistory struct {
	mu      sync.Mutex
	entries []store.Entry
}

func (h *fakeHistory) Append(_ context.Context, e store.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *fakeHistory) Recent(_ context.Context, n int) ([]store.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []store.Entry{}
	for i := len(h.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.entries[i])
	}
	return out, nil
}

func (h *fakeHistory) Close() error { return nil }

// newTestServer builds a *Server around a fakeBackend without listening.
func newTestServer() *Server {
	return newBackendTestServer(&fakeBackend{})
}

func newBackendTestServer(b Backend) *Server {
	return &Server{
		backend: b,
		cfg:     &Config{Port: 8080, DefaultK: 5, QueryTimeout: time.Minute},
		log:     slog.Default(),
		metrics: newServerMetrics(prometheus.NewRegistry()),
	}
}

func post(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

// ---------------------------------------------------------------------------
// POST /api/query
// ---------------------------------------------------------------------------

func TestHandleQuery_OK(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{queryRes: &rag.AnswerResult{
		Answer:          "Scotland [1]",
		Passages:        []rag.Passage{{Text: "St Andrews is in Fife, Scotland.", Source: "fife.txt", Score: 0.9}},
		VectorStoreKind: rag.StoreFlat,
	}}
	s := newBackendTestServer(b)
	h := &fakeHistory{}
	s.history = h

	w := post(t, s.handleQuery, "/api/query", `{"question":"Where is St Andrews?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	if b.lastK != 5 {
		t.Errorf("k: expected default 5, got %d", b.lastK)
	}

	var resp rag.AnswerResult
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "Scotland [1]" || len(resp.Passages) != 1 || resp.VectorStoreKind != rag.StoreFlat {
		t.Errorf("unexpected response: %+v", resp)
	}

	if len(h.entries) != 1 || h.entries[0].Sources[0] != "fife.txt" {
		t.Errorf("history not recorded: %+v", h.entries)
	}
}

func TestHandleQuery_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := post(t, s.handleQuery, "/api/query", `not-json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleQuery_ErrorKindsMapToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{rag.Errorf(rag.KindUser, "t", "empty question"), http.StatusBadRequest},
		{rag.Errorf(rag.KindNotFound, "t", "gone"), http.StatusNotFound},
		{rag.Errorf(rag.KindProvider, "t", "bad json"), http.StatusBadGateway},
		{rag.Errorf(rag.KindTransient, "t", "deadline"), http.StatusServiceUnavailable},
		{rag.Errorf(rag.KindFatal, "t", "corrupt"), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := newBackendTestServer(&fakeBackend{queryErr: tc.err})
		w := post(t, s.handleQuery, "/api/query", `{"question":"q","k":3}`)
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
		var body errorResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error == "" || body.Kind == "" {
			t.Errorf("%v: expected error and kind in body, got %+v", tc.err, body)
		}
	}
}

func TestHandleQuery_GeneratorFailureKeepsPassages(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		queryRes: &rag.AnswerResult{
			Passages:        []rag.Passage{{Text: "t", Source: "s"}},
			VectorStoreKind: rag.StoreFlat,
		},
		queryErr: &rag.QueryError{Passages: 1, Err: rag.Errorf(rag.KindTransient, "t", "timeout")},
	}
	s := newBackendTestServer(b)

	w := post(t, s.handleQuery, "/api/query", `{"question":"q"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp struct {
		Passages []rag.Passage `json:"passages"`
		Kind     string        `json:"kind"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Passages) != 1 || resp.Kind != "transient_error" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

// ---------------------------------------------------------------------------
// POST /api/search, /api/ingest
// ---------------------------------------------------------------------------

func TestHandleSearch(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{passages: []rag.Passage{{Text: "a", Source: "x", Score: 0.03}}}
	s := newBackendTestServer(b)

	w := post(t, s.handleSearch, "/api/search", `{"question":"a","k":7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if b.lastK != 7 {
		t.Errorf("k: expected 7, got %d", b.lastK)
	}
	var resp searchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Passages) != 1 || resp.VectorStoreKind != rag.StoreFlat {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleIngest(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{ingestRes: &engine.IngestResult{Documents: 1, Chunks: 2, Indexed: 2, IndexSize: 2}}
	s := newBackendTestServer(b)

	w := post(t, s.handleIngest, "/api/ingest", `{"path":" /srv/docs "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	if b.lastPath != "/srv/docs" {
		t.Errorf("path: got %q", b.lastPath)
	}

	w = post(t, s.handleIngest, "/api/ingest", `{"path":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty path: expected 400, got %d", w.Code)
	}
}

func TestHandleIngest_PartialFailure(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		ingestRes: &engine.IngestResult{Indexed: 64},
		ingestErr: &rag.IngestError{
			Stage:     rag.StageEmbed,
			Succeeded: 64,
			Err:       rag.Errorf(rag.KindTransient, "t", "rate limited"),
		},
	}
	s := newBackendTestServer(b)

	w := post(t, s.handleIngest, "/api/ingest", `{"path":"/srv/docs"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stage != rag.StageEmbed || resp.Result == nil || resp.Result.Indexed != 64 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestIngestAllowed(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.cfg.IngestRoot = "/srv/docs"

	cases := map[string]bool{
		"/srv/docs":                  true,
		"/srv/docs/guide.md":         true,
		"/srv/docs/../secrets":       false,
		"/etc/passwd":                false,
		"https://example.com/a.html": true,
	}
	for path, want := range cases {
		if got := s.ingestAllowed(path); got != want {
			t.Errorf("ingestAllowed(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestIngestAllowed_ResolvesSymlinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("keys"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "guide.md"), []byte("guide"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(root, "notes.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "linked")); err != nil {
		t.Fatal(err)
	}
	// a root reached through a symlink still contains its own files
	aliasDir := t.TempDir()
	alias := filepath.Join(aliasDir, "alias")
	if err := os.Symlink(root, alias); err != nil {
		t.Fatal(err)
	}

	s := newTestServer()
	s.cfg.IngestRoot = root
	aliased := newTestServer()
	aliased.cfg.IngestRoot = alias

	cases := []struct {
		srv  *Server
		path string
		want bool
	}{
		{s, filepath.Join(root, "guide.md"), true},
		{s, filepath.Join(root, "notes.txt"), false},
		{s, filepath.Join(root, "linked"), false},
		{s, filepath.Join(root, "linked", "secret.txt"), false},
		{s, filepath.Join(root, "not-yet-written.md"), true},
		{aliased, filepath.Join(root, "guide.md"), true},
		{aliased, filepath.Join(alias, "guide.md"), true},
		{aliased, filepath.Join(alias, "notes.txt"), false},
	}
	for _, tc := range cases {
		if got := tc.srv.ingestAllowed(tc.path); got != tc.want {
			t.Errorf("ingestAllowed(%q) under %q = %v, want %v", tc.path, tc.srv.cfg.IngestRoot, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// GET /api/history, /api/cache/stats
// ---------------------------------------------------------------------------

func TestHandleHistory(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	s.handleHistory(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("disabled history: expected 404, got %d", w.Code)
	}

	h := &fakeHistory{}
	for _, q := range []string{"one", "two", "three"} {
		_ = h.Append(context.Background(), store.Entry{Question: q})
	}
	s.history = h

	req = httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil)
	w = httptest.NewRecorder()
	s.handleHistory(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []store.Entry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].Question != "three" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history?limit=zero", nil)
	w = httptest.NewRecorder()
	s.handleHistory(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestHandleCacheStats(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{cache: engine.CacheStats{Enabled: true, Hits: 4, Misses: 1}}
	s := newBackendTestServer(b)

	req := httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil)
	w := httptest.NewRecorder()
	s.handleCacheStats(w, req)

	var st engine.CacheStats
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Enabled || st.Hits != 4 || st.Misses != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

// ---------------------------------------------------------------------------
// Full handler tree
// ---------------------------------------------------------------------------

func TestRoutes_AuthAndPublicEndpoints(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s, err := New(&fakeBackend{passages: []rag.Passage{}}, &Config{
		APIKey:          "secret",
		Logger:          logging.Discard(),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	do := func(method, path, token, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequestWithContext(t.Context(), method, srv.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	if resp := do(http.MethodGet, "/api/health", "", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("health: expected 200, got %d", resp.StatusCode)
	} else if resp.Header.Get(requestIDHeader) == "" {
		t.Error("health: expected a request ID header")
	}
	if resp := do(http.MethodPost, "/api/search", "", `{"question":"q"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("search without token: expected 401, got %d", resp.StatusCode)
	}
	if resp := do(http.MethodPost, "/api/search", "secret", `{"question":"q"}`); resp.StatusCode != http.StatusOK {
		t.Errorf("search with token: expected 200, got %d", resp.StatusCode)
	}
	if resp := do(http.MethodGet, "/api/search", "secret", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET search: expected 405, got %d", resp.StatusCode)
	}

	resp := do(http.MethodGet, "/metrics", "", "")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "docrag_http_requests_total") {
		t.Error("metrics: docrag_http_requests_total not exposed")
	}
}

func TestNew_RequiresBackend(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil backend")
	}
}
