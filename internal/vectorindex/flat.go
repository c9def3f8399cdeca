// Package vectorindex provides the rag.VectorIndex backends: an in-memory
// flat L2 index persisted as two companion files, an embedded SQLite
// collection, and a remote Qdrant collection. All three keep vectors and
// chunks in lock-step and are selected at construction time via [New].
package vectorindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Companion file names inside a flat index directory.
const (
	MatrixFile = "index.f32"
	ChunksFile = "chunks.json"
)

// matrixMagic prefixes the matrix file.
var matrixMagic = [4]byte{'F', 'L', 'T', '1'}

// Flat is an exact nearest-neighbour index over float32 vectors using
// squared L2 distance. It holds everything in memory and persists the full
// matrix and chunk list on every Persist.
type Flat struct {
	// dir is the directory holding MatrixFile and ChunksFile.
	dir string
	// wmu serializes Add.
	wmu sync.Mutex
	// mu guards m. Add builds the next matrix before taking the write lock.
	mu sync.RWMutex
	// m is the current snapshot.
	m *matrix
}

// NewFlat returns an empty flat index bound to dir.
func NewFlat(dir string) *Flat {
	return &Flat{dir: dir, m: &matrix{}}
}

// Kind implements rag.VectorIndex.
func (f *Flat) Kind() rag.StoreKind { return rag.StoreFlat }

func (f *Flat) snapshot() *matrix {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.m
}

// Add appends vectors and chunks. Either the whole batch becomes visible or
// none of it does.
func (f *Flat) Add(_ context.Context, vectors [][]float32, chunks []rag.Chunk) error {
	if len(vectors) == 0 && len(chunks) == 0 {
		return nil
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()

	cur := f.snapshot()
	dim, err := cur.checkBatch("flat: add", vectors, chunks)
	if err != nil {
		return err
	}
	next := cur.appended(dim, vectors, chunks)

	f.mu.Lock()
	f.m = next
	f.mu.Unlock()
	return nil
}

// Search implements rag.VectorIndex.
func (f *Flat) Search(_ context.Context, query []float32, k int) ([]rag.Hit, error) {
	return f.snapshot().search("flat: search", query, k)
}

// Len implements rag.VectorIndex.
func (f *Flat) Len() int { return f.snapshot().len() }

// Dim implements rag.VectorIndex.
func (f *Flat) Dim() int { return f.snapshot().dim }

// Chunks implements rag.VectorIndex.
func (f *Flat) Chunks() []rag.Chunk {
	m := f.snapshot()
	return append([]rag.Chunk(nil), m.chunks...)
}

// Close implements rag.VectorIndex.
func (f *Flat) Close() error { return nil }

// Persist writes the matrix and chunk list to the index directory. Each file
// is written to a temp file and renamed into place.
func (f *Flat) Persist(_ context.Context) error {
	m := f.snapshot()
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return rag.E(rag.KindFatal, "flat: persist", err)
	}

	if err := writeAtomic(filepath.Join(f.dir, MatrixFile), func(w io.Writer) error {
		return writeMatrix(w, m)
	}); err != nil {
		return rag.E(rag.KindFatal, "flat: persist matrix", err)
	}

	chunks := m.chunks
	if chunks == nil {
		chunks = []rag.Chunk{}
	}
	if err := writeAtomic(filepath.Join(f.dir, ChunksFile), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(chunks)
	}); err != nil {
		return rag.E(rag.KindFatal, "flat: persist chunks", err)
	}
	return nil
}

// Load reads the companion files. It returns false when neither exists. A
// missing companion, a damaged matrix, or a row/chunk count mismatch is a
// KindFatal error and leaves the in-memory index untouched.
func (f *Flat) Load(_ context.Context) (bool, error) {
	matrixPath := filepath.Join(f.dir, MatrixFile)
	chunksPath := filepath.Join(f.dir, ChunksFile)

	matrixOK, err := exists(matrixPath)
	if err != nil {
		return false, rag.E(rag.KindFatal, "flat: load", err)
	}
	chunksOK, err := exists(chunksPath)
	if err != nil {
		return false, rag.E(rag.KindFatal, "flat: load", err)
	}
	switch {
	case !matrixOK && !chunksOK:
		return false, nil
	case !matrixOK:
		return false, rag.Errorf(rag.KindFatal, "flat: load", "%s exists without %s", ChunksFile, MatrixFile)
	case !chunksOK:
		return false, rag.Errorf(rag.KindFatal, "flat: load", "%s exists without %s", MatrixFile, ChunksFile)
	}

	raw, err := os.ReadFile(chunksPath)
	if err != nil {
		return false, rag.E(rag.KindFatal, "flat: load chunks", err)
	}
	var chunks []rag.Chunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return false, rag.E(rag.KindFatal, "flat: load chunks", err)
	}

	mf, err := os.Open(matrixPath)
	if err != nil {
		return false, rag.E(rag.KindFatal, "flat: load matrix", err)
	}
	defer mf.Close()
	st, err := mf.Stat()
	if err != nil {
		return false, rag.E(rag.KindFatal, "flat: load matrix", err)
	}
	m, err := readMatrix(bufio.NewReader(mf), st.Size())
	if err != nil {
		return false, rag.E(rag.KindFatal, "flat: load matrix", err)
	}

	rows := 0
	if m.dim > 0 {
		rows = len(m.data) / m.dim
	}
	if rows != len(chunks) {
		return false, rag.Errorf(rag.KindFatal, "flat: load",
			"%s holds %d rows but %s holds %d chunks", MatrixFile, rows, ChunksFile, len(chunks))
	}
	m.chunks = chunks

	f.mu.Lock()
	f.m = m
	f.mu.Unlock()
	return true, nil
}

// writeMatrix encodes magic, row count, dimension, then row-major values.
func writeMatrix(w io.Writer, m *matrix) error {
	header := struct {
		Magic [4]byte
		Rows  uint32
		Dim   uint32
	}{matrixMagic, uint32(m.len()), uint32(m.dim)} //nolint:gosec // bounded by memory
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.data); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// matrixHeaderSize is the encoded size of the magic, row count and dimension.
const matrixHeaderSize = 12

// readMatrix decodes a matrix written by writeMatrix from a file of size
// bytes. The header must describe exactly the payload that follows it, so a
// damaged header is rejected before anything is allocated.
func readMatrix(r io.Reader, size int64) (*matrix, error) {
	var header struct {
		Magic [4]byte
		Rows  uint32
		Dim   uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header.Magic != matrixMagic {
		return nil, errors.New("not a matrix file")
	}
	if header.Rows > 0 && header.Dim == 0 {
		return nil, fmt.Errorf("%d rows with zero dimension", header.Rows)
	}
	// both fields are uint32, so the product cannot overflow uint64
	values := uint64(header.Rows) * uint64(header.Dim)
	payload := size - matrixHeaderSize
	if payload < 0 || payload%4 != 0 || values != uint64(payload/4) {
		return nil, fmt.Errorf("header declares %d rows of dimension %d but file holds %d bytes",
			header.Rows, header.Dim, size)
	}
	data := make([]float32, values)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("read %d rows: %w", header.Rows, err)
	}
	if n, _ := io.CopyN(io.Discard, r, 1); n != 0 {
		return nil, errors.New("trailing data after last row")
	}
	return &matrix{dim: int(header.Dim), data: data}, nil
}

// writeAtomic writes path via a temp file in the same directory.
func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
