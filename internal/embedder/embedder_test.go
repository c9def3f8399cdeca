package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

func TestHashEmbedder_DeterministicUnitVectors(t *testing.T) {
	t.Parallel()
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"St Andrews golf", "", "st andrews GOLF!"})
	require.NoError(t, err)
	require.Len(t, a, 3)

	for i, v := range a {
		require.Len(t, v, 64)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5, "vector %d", i)
	}
	assert.Equal(t, a[0], a[2], "case and punctuation are ignored")

	b, err := e.Embed(ctx, []string{"St Andrews golf"})
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])
	assert.Equal(t, "hash-64", e.Model())
}

func newOllamaTestServer(t *testing.T, h http.HandlerFunc) *OllamaEmbedder {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
}

func TestOllamaEmbedder_Success(t *testing.T) {
	t.Parallel()
	e := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	got, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestOllamaEmbedder_SplitsBatches(t *testing.T) {
	t.Parallel()
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)
		sizes = append(sizes, len(req.Input))
		resp := ollamaEmbedResponse{}
		for _, in := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(len(in)), 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "m", BatchSize: 2})
	got, err := e.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	require.Len(t, got, 5)
	for i, v := range got {
		assert.InDelta(t, float64(i+1), float64(v[0]), 0, "vector %d out of order", i)
	}
	assert.Equal(t, srv.URL, e.Host())

	none, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOllamaEmbedder_ErrorKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, rag.ErrTransient},
		{"server error", http.StatusBadGateway, ``, rag.ErrTransient},
		{"model missing", http.StatusNotFound, `{"error":"model not found"}`, rag.ErrProvider},
		{"short response", http.StatusOK, `{"embeddings":[[1,2]]}`, rag.ErrProvider},
		{"empty vector", http.StatusOK, `{"embeddings":[[1,2],[]]}`, rag.ErrProvider},
		{"garbage", http.StatusOK, `not json`, rag.ErrProvider},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newOllamaTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := e.Embed(context.Background(), []string{"a", "b"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestOllamaEmbedder_MalformedBodyIsLoggedTruncated(t *testing.T) {
	t.Parallel()
	body := `{"embeddings":[[0.1,` + strings.Repeat("9", 1000)
	e := newOllamaTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	})

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := logging.WithLogger(context.Background(), log)

	_, err := e.Embed(ctx, []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrProvider)
	assert.Contains(t, err.Error(), body[:maxPayloadLog])
	assert.Contains(t, err.Error(), "...(truncated)")
	assert.NotContains(t, err.Error(), body[:maxPayloadLog+1])

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, body[:maxPayloadLog]+"...(truncated)", entry["payload"])
}

func TestOllamaEmbedder_ErrorBodyIsQuoted(t *testing.T) {
	t.Parallel()
	e := newOllamaTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("<html>bad gateway config</html>"))
	})
	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrProvider)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Contains(t, err.Error(), "bad gateway config")
}

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		],"model":"text-embedding-3-small"}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "test", Model: "text-embedding-3-small"})
	got, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, got)
}

func TestOpenAIEmbedder_RateLimitIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit","type":"requests"}}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "test", Model: "m"})
	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrTransient)
}

func TestResolve(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_MODEL", "")

	info := Resolve()
	assert.Equal(t, "hash", info.Backend)
	assert.Equal(t, DefaultHashDimensions, info.Dimensions)
	assert.Equal(t, "hash-256", info.Model)

	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("MODEL_PROVIDER", "openai")
	info = Resolve()
	assert.Equal(t, "openai", info.Backend)
	assert.Equal(t, defaultOpenAIModel, info.Model)
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "azure")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("AZURE_OPENAI_API_KEY", "")

	_, _, err := NewFromEnv(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrUser)

	require.ErrorIs(t, Validate(slog.Default()), rag.ErrUser)
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()
	assert.True(t, looksLikeChatModel("gpt-4o"))
	assert.True(t, looksLikeChatModel("Llama3.1:8b"))
	assert.False(t, looksLikeChatModel("nomic-embed-text"))
	assert.False(t, looksLikeChatModel("text-embedding-3-small"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"hash needs nothing", map[string]string{"EMBEDDING_PROVIDER": "hash"}, ""},
		{"ollama needs nothing", map[string]string{"EMBEDDING_PROVIDER": "ollama"}, ""},
		{"openai key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, "OPENAI_API_KEY"},
		{"openai inherited key", map[string]string{"EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": "k"}, ""},
		{"azure endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k"}, "AZURE_OPENAI_ENDPOINT"},
		{"gemini key", map[string]string{"EMBEDDING_PROVIDER": "gemini"}, "GOOGLE_API_KEY"},
		{"bedrock", map[string]string{"EMBEDDING_PROVIDER": "bedrock"}, "bedrock"},
		{"unknown", map[string]string{"EMBEDDING_PROVIDER": "word2vec"}, "word2vec"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{
				"MODEL_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
				"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "GOOGLE_API_KEY",
			} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			err := Validate(slog.New(slog.DiscardHandler))
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, rag.ErrUser)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
