package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// StoreKind identifies the vector index backend that served a query.
type StoreKind string

const (
	// StoreFlat is the in-memory flat L2 index persisted as matrix files.
	StoreFlat StoreKind = "flat"
	// StoreCollection is the embedded SQLite document collection.
	StoreCollection StoreKind = "collection"
	// StoreQdrant is a remote Qdrant collection.
	StoreQdrant StoreKind = "qdrant"
)

// Chunk is a contiguous, bounded-length passage of source text.
// Chunks are immutable once produced by the chunker.
type Chunk struct {
	// Text is the passage content, including any carried-over prefix.
	Text string `json:"text"`
	// SourceID identifies the document the chunk came from (usually a path).
	SourceID string `json:"source_id"`
	// Order is the zero-based position of the chunk within its source.
	Order int `json:"order"`
	// Overlap is the byte length of the prefix of Text carried over from the
	// previous chunk of the same source. Zero for the first chunk.
	Overlap int `json:"overlap,omitempty"`
}

// ID returns the stable identifier of the chunk, derived from its source and
// order only, so re-ingesting a source addresses the same records.
func (c Chunk) ID() string {
	sum := sha256.Sum256([]byte(c.SourceID + "#" + strconv.Itoa(c.Order)))
	return hex.EncodeToString(sum[:16])
}

// Hit is a single vector search result.
type Hit struct {
	// Position is the row of the entry in the backing vector matrix.
	Position int
	// Chunk is the indexed chunk stored at Position.
	Chunk Chunk
	// Distance is the squared L2 distance to the query (lower is closer).
	Distance float32
}

// Passage is a retrieved chunk plus its relevance score and attribution.
type Passage struct {
	// Text is the chunk text handed to the generator.
	Text string `json:"text"`
	// Source is the SourceID of the originating document.
	Source string `json:"source"`
	// Score is the relevance score: cosine similarity for dense-only
	// retrieval, accumulated RRF score for hybrid retrieval.
	Score float64 `json:"score"`
}

// AnswerResult is the outcome of a single query.
type AnswerResult struct {
	// Answer is the generated (or explanatory) answer text.
	Answer string `json:"answer"`
	// Passages are the retrieved passages the answer was grounded on.
	Passages []Passage `json:"passages"`
	// VectorStoreKind reports which index backend served the query.
	VectorStoreKind StoreKind `json:"vector_store_kind"`
}

// NormalizeText trims s and collapses every whitespace run to one space.
// It is the deduplication key for chunk text.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
