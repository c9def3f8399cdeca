//go:build integration

package embedder

import (
	"context"
	"math"
	"testing"
	"time"
)

// TestLiveEmbedder_RanksRelevantPassage embeds a question and two passages
// with the backend selected by the environment (Ollama by default) and
// checks that the relevant passage is closer to the question.
//
// Run with:
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run TestLiveEmbedder ./internal/embedder/
//
// Set EMBEDDING_PROVIDER and its credentials to exercise another backend.
func TestLiveEmbedder_RanksRelevantPassage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	emb, info, err := NewFromEnv(ctx)
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	t.Logf("backend=%s model=%s", info.Backend, info.Model)

	texts := []string{
		"Which country is St Andrews in?",
		"St Andrews is a town on the east coast of Fife, in Scotland.",
		"Oolong is a partially oxidised tea from China and Taiwan.",
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) == 0 || len(v) != dim {
			t.Fatalf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	relevant, unrelated := cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2])
	t.Logf("dim=%d relevant=%.4f unrelated=%.4f", dim, relevant, unrelated)
	if relevant <= unrelated {
		t.Errorf("relevant passage scored %.4f, unrelated %.4f", relevant, unrelated)
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
