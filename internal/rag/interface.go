// Package rag defines the records and capability interfaces shared by the
// retrieval core: chunks, passages, answer results, the Embedder and
// Generator capabilities, and the VectorIndex contract that every storage
// backend satisfies. Concrete implementations live in sibling packages so
// the orchestrator never depends on a specific backend.
package rag

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is the capability that turns an assembled prompt into an answer.
// Implementations must be safe to call from multiple goroutines.
type Generator interface {
	// Complete sends messages to the language model and returns its reply text.
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
}

// VectorIndex is the uniform contract implemented by every dense storage
// backend. Vectors and chunks are kept in lock-step: row i of the vector
// matrix always describes Chunks()[i].
// Implementations must be safe for concurrent Search calls while a single
// writer calls Add or Persist.
type VectorIndex interface {
	// Kind reports which backend is active, for AnswerResult provenance.
	Kind() StoreKind

	// Add appends vectors and their chunks atomically. len(vectors) must
	// equal len(chunks) and every vector must match Dim() once set.
	Add(ctx context.Context, vectors [][]float32, chunks []Chunk) error

	// Search returns the min(k, Len()) nearest entries by ascending distance.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Persist flushes the index to its backing storage.
	Persist(ctx context.Context) error

	// Load restores the index from its backing storage. It returns false
	// with a nil error when nothing has been persisted yet.
	Load(ctx context.Context) (bool, error)

	// Len returns the number of indexed entries.
	Len() int

	// Dim returns the vector dimension, or 0 for an empty index.
	Dim() int

	// Chunks returns a copy of all indexed chunks ordered by position.
	Chunks() []Chunk

	// Close releases any resources held by the index.
	Close() error
}
