// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. Each implementation talks to a
// different backend: Ollama over its REST API, OpenAI and Azure OpenAI through
// go-openai, Gemini through the genai SDK, and a local feature-hashing
// embedder that needs no network at all.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// maxPayloadLog caps how much of a provider payload reaches logs and errors.
const maxPayloadLog = 256

// statusError classifies a non-2xx HTTP status from an embedding backend.
// Rate limiting and server errors are worth retrying; everything else is a
// provider failure.
func statusError(ctx context.Context, op string, status int, payload string) error {
	kind := rag.KindProvider
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = rag.KindTransient
	}
	if payload == "" {
		payload = http.StatusText(status)
	}
	return payloadError(ctx, kind, op, fmt.Errorf("HTTP %d", status), payload)
}

// payloadError logs the offending provider payload at warn level and
// returns it, truncated, inside a classified error.
func payloadError(ctx context.Context, kind rag.Kind, op string, cause error, payload string) error {
	snippet := rag.Truncate(payload, maxPayloadLog)
	logging.FromContext(ctx).WarnContext(ctx, op+": unusable provider response",
		slog.String("kind", kind.String()),
		slog.String("payload", snippet),
		slog.Any("error", cause),
	)
	if snippet == "" {
		return rag.E(kind, op, cause)
	}
	return rag.E(kind, op, fmt.Errorf("%w: %s", cause, snippet))
}

// checkCount verifies that a backend returned one non-empty vector per text.
func checkCount(op string, vecs [][]float32, texts []string) error {
	if len(vecs) != len(texts) {
		return rag.Errorf(rag.KindProvider, op, "expected %d embeddings, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return rag.Errorf(rag.KindProvider, op, "embedding %d is empty", i)
		}
	}
	return nil
}
