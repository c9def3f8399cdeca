package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/docrag-go/internal/rag"
)

// CollectionFile is the default database file name inside an index directory.
const CollectionFile = "collection.db"

// Collection is a persistent document collection backed by an embedded
// SQLite database. Rows are keyed by the stable chunk ID, so re-adding a
// chunk from the same source and order replaces it in place. An in-memory
// mirror of the table serves searches.
type Collection struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// wmu serializes Add so positions are assigned without gaps.
	wmu sync.Mutex
	// mu guards m and ids.
	mu sync.RWMutex
	// m mirrors the table ordered by position.
	m *matrix
	// ids maps chunk ID to position.
	ids map[string]int
}

// OpenCollection opens (or creates) the collection database at path and
// runs the schema migration. Use ":memory:" in tests.
func OpenCollection(path string) (*Collection, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("collection: open %s: %w", path, err)
	}
	// one connection keeps ":memory:" databases alive and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	c := &Collection{db: db, m: &matrix{}, ids: make(map[string]int)}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Collection) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
    id         TEXT    PRIMARY KEY,
    position   INTEGER NOT NULL UNIQUE,
    source_id  TEXT    NOT NULL,
    ord        INTEGER NOT NULL,
    overlap    INTEGER NOT NULL DEFAULT 0,
    text       TEXT    NOT NULL,
    vector     BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks (source_id, ord);
`
	if _, err := c.db.Exec(ddl); err != nil {
		return fmt.Errorf("collection: migrate: %w", err)
	}
	return nil
}

// Kind implements rag.VectorIndex.
func (c *Collection) Kind() rag.StoreKind { return rag.StoreCollection }

func (c *Collection) snapshot() *matrix {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m
}

// Add upserts the batch in one transaction and then publishes the new
// mirror. If the transaction fails nothing changes.
func (c *Collection) Add(ctx context.Context, vectors [][]float32, chunks []rag.Chunk) error {
	if len(vectors) == 0 && len(chunks) == 0 {
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	cur := c.snapshot()
	dim, err := cur.checkBatch("collection: add", vectors, chunks)
	if err != nil {
		return err
	}

	c.mu.RLock()
	ids := make(map[string]int, len(c.ids)+len(chunks))
	for k, v := range c.ids {
		ids[k] = v
	}
	c.mu.RUnlock()

	next := &matrix{
		dim:    dim,
		data:   append(make([]float32, 0, (cur.len()+len(chunks))*dim), cur.data...),
		chunks: append(make([]rag.Chunk, 0, cur.len()+len(chunks)), cur.chunks...),
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return rag.E(rag.KindFatal, "collection: add", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
INSERT INTO chunks (id, position, source_id, ord, overlap, text, vector)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    overlap = excluded.overlap,
    text    = excluded.text,
    vector  = excluded.vector`
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return rag.E(rag.KindFatal, "collection: add", err)
	}
	defer stmt.Close()

	for i, ch := range chunks {
		id := ch.ID()
		pos, ok := ids[id]
		if ok {
			copy(next.row(pos), vectors[i])
			next.chunks[pos] = ch
		} else {
			pos = len(next.chunks)
			ids[id] = pos
			next.data = append(next.data, vectors[i]...)
			next.chunks = append(next.chunks, ch)
		}
		if _, err := stmt.ExecContext(ctx, id, pos, ch.SourceID, ch.Order, ch.Overlap, ch.Text, encodeVector(vectors[i])); err != nil {
			return rag.E(rag.KindFatal, "collection: add", fmt.Errorf("upsert %s: %w", id, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return rag.E(rag.KindFatal, "collection: add", fmt.Errorf("commit: %w", err))
	}

	c.mu.Lock()
	c.m, c.ids = next, ids
	c.mu.Unlock()
	return nil
}

// Search implements rag.VectorIndex.
func (c *Collection) Search(_ context.Context, query []float32, k int) ([]rag.Hit, error) {
	return c.snapshot().search("collection: search", query, k)
}

// Len implements rag.VectorIndex.
func (c *Collection) Len() int { return c.snapshot().len() }

// Dim implements rag.VectorIndex.
func (c *Collection) Dim() int { return c.snapshot().dim }

// Chunks implements rag.VectorIndex.
func (c *Collection) Chunks() []rag.Chunk {
	return append([]rag.Chunk(nil), c.snapshot().chunks...)
}

// Persist checkpoints the write-ahead log into the main database file.
func (c *Collection) Persist(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return rag.E(rag.KindFatal, "collection: persist", err)
	}
	return nil
}

// Load rebuilds the in-memory mirror from the table. Positions must be
// contiguous from zero and every vector must share one dimension.
func (c *Collection) Load(ctx context.Context) (bool, error) {
	const q = `SELECT id, position, source_id, ord, overlap, text, vector FROM chunks ORDER BY position`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return false, rag.E(rag.KindFatal, "collection: load", err)
	}
	defer rows.Close()

	m := &matrix{}
	ids := make(map[string]int)
	for rows.Next() {
		var (
			id   string
			pos  int
			ch   rag.Chunk
			blob []byte
		)
		if err := rows.Scan(&id, &pos, &ch.SourceID, &ch.Order, &ch.Overlap, &ch.Text, &blob); err != nil {
			return false, rag.E(rag.KindFatal, "collection: load scan", err)
		}
		if pos != len(m.chunks) {
			return false, rag.Errorf(rag.KindFatal, "collection: load", "position gap: want %d, got %d", len(m.chunks), pos)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return false, rag.E(rag.KindFatal, "collection: load", fmt.Errorf("row %d: %w", pos, err))
		}
		if m.dim == 0 {
			m.dim = len(vec)
		}
		if len(vec) != m.dim {
			return false, rag.E(rag.KindFatal, "collection: load",
				fmt.Errorf("row %d has dimension %d, want %d: %w", pos, len(vec), m.dim, rag.ErrDimensionMismatch))
		}
		m.data = append(m.data, vec...)
		m.chunks = append(m.chunks, ch)
		ids[id] = pos
	}
	if err := rows.Err(); err != nil {
		return false, rag.E(rag.KindFatal, "collection: load rows", err)
	}

	c.mu.Lock()
	c.m, c.ids = m, ids
	c.mu.Unlock()
	return len(m.chunks) > 0, nil
}

// Close releases the database connection pool.
func (c *Collection) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("collection: close: %w", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
