package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector size of the hash embedder.
const DefaultHashDimensions = 256

// HashEmbedder maps text to a bag-of-words vector with the hashing trick.
// It is deterministic and offline, which makes it useful for tests, demos,
// and air-gapped installs where lexical similarity is good enough.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a hash embedder with dim buckets (default 256).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimensions
	}
	return &HashEmbedder{dim: dim}
}

// Embed implements rag.Embedder. Texts without any word produce a vector
// with a single bias component so that no vector is all zeros.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim)) //nolint:gosec // dim > 0
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		v[bucket] += sign
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// Model identifies the embedder in cache keys.
func (e *HashEmbedder) Model() string { return "hash-" + strconv.Itoa(e.dim) }
