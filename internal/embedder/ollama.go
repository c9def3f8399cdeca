package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/rag"
)

// DefaultOllamaBatch is the number of texts sent per /api/embed call.
const DefaultOllamaBatch = 64

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama base URL, e.g. "http://localhost:11434".
	Host string
	// Model is the embedding model name, e.g. "nomic-embed-text".
	Model string
	// Timeout bounds one HTTP round trip. Zero means 60s.
	Timeout time.Duration
	// BatchSize caps the texts per request. Zero means DefaultOllamaBatch.
	BatchSize int
}

// OllamaEmbedder calls the local Ollama /api/embed endpoint. It holds no
// mutable state and is safe for concurrent use.
type OllamaEmbedder struct {
	host   string
	model  string
	batch  int
	client *http.Client
}

// NewOllamaEmbedder constructs an OllamaEmbedder from cfg.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultOllamaBatch
	}
	return &OllamaEmbedder{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  cfg.Model,
		batch:  batch,
		client: &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

// maxResponseBytes bounds one /api/embed response body.
const maxResponseBytes = 256 << 20

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order. Large inputs are split
// into BatchSize requests; the first failing request fails the whole call.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		end := min(start+e.batch, len(texts))
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "ollama embedder"

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts, Truncate: true})
	if err != nil {
		return nil, rag.E(rag.KindFatal, op, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, rag.E(rag.KindUser, op, fmt.Errorf("build request for %q: %w", e.host, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, rag.Classify(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, rag.Classify(op, fmt.Errorf("read response: %w", err))
	}

	// error bodies are JSON too, so decode before looking at the status
	var result ollamaEmbedResponse
	decodeErr := json.Unmarshal(raw, &result)
	if resp.StatusCode/100 != 2 {
		msg := result.Error
		if msg == "" {
			msg = string(raw)
		}
		return nil, statusError(ctx, op, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, payloadError(ctx, rag.KindProvider, op, fmt.Errorf("decode response: %w", decodeErr), string(raw))
	}
	if err := checkCount(op, result.Embeddings, texts); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string { return e.model }

// Host returns the Ollama base URL.
func (e *OllamaEmbedder) Host() string { return e.host }
