package vectorindex

import (
	"fmt"
	"slices"

	"github.com/54b3r/docrag-go/internal/rag"
)

// matrix is an immutable snapshot of vectors and their chunks. Row i of
// data (stride dim) belongs to chunks[i]. Writers build a new matrix and
// swap the reference; readers never see a half-applied change.
type matrix struct {
	// dim is the vector dimension, 0 while empty.
	dim int
	// data holds all vectors row-major.
	data []float32
	// chunks is parallel to the rows of data.
	chunks []rag.Chunk
}

func (m *matrix) len() int {
	if m == nil {
		return 0
	}
	return len(m.chunks)
}

func (m *matrix) row(i int) []float32 {
	return m.data[i*m.dim : (i+1)*m.dim]
}

// checkBatch validates a batch against the matrix dimension and returns the
// dimension the matrix will have after the batch.
func (m *matrix) checkBatch(op string, vectors [][]float32, chunks []rag.Chunk) (int, error) {
	if len(vectors) != len(chunks) {
		return 0, rag.Errorf(rag.KindUser, op, "%d vectors for %d chunks", len(vectors), len(chunks))
	}
	dim := 0
	if m != nil {
		dim = m.dim
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return 0, rag.Errorf(rag.KindProvider, op, "vector %d is empty", i)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return 0, rag.E(rag.KindFatal, op,
				fmt.Errorf("vector %d has dimension %d, index holds %d: %w", i, len(v), dim, rag.ErrDimensionMismatch))
		}
	}
	return dim, nil
}

// appended returns a new matrix with the batch added after the existing rows.
func (m *matrix) appended(dim int, vectors [][]float32, chunks []rag.Chunk) *matrix {
	n := m.len()
	next := &matrix{
		dim:    dim,
		data:   make([]float32, 0, (n+len(vectors))*dim),
		chunks: make([]rag.Chunk, 0, n+len(chunks)),
	}
	if m != nil {
		next.data = append(next.data, m.data...)
		next.chunks = append(next.chunks, m.chunks...)
	}
	for _, v := range vectors {
		next.data = append(next.data, v...)
	}
	next.chunks = append(next.chunks, chunks...)
	return next
}

// search returns the k rows nearest to q by squared L2 distance. Equal
// distances keep insertion order.
func (m *matrix) search(op string, q []float32, k int) ([]rag.Hit, error) {
	n := m.len()
	if n == 0 || k <= 0 {
		return []rag.Hit{}, nil
	}
	if len(q) != m.dim {
		return nil, rag.E(rag.KindFatal, op,
			fmt.Errorf("query has dimension %d, index holds %d: %w", len(q), m.dim, rag.ErrDimensionMismatch))
	}

	hits := make([]rag.Hit, n)
	for i := range n {
		hits[i] = rag.Hit{Position: i, Chunk: m.chunks[i], Distance: squaredL2(q, m.row(i))}
	}
	slices.SortStableFunc(hits, func(a, b rag.Hit) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return hits[:min(k, n)], nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
