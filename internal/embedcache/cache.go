// Package embedcache is a content-addressed disk cache of embedding vectors.
// Each (model, text) pair maps to one file named by the hex SHA-256 digest
// of model + "\x00" + text, so identical inputs always share an entry.
//
// Reads never lock and treat any unreadable entry as a miss. Writes are
// serialized by a single mutex, go through a temp file and rename, and never
// fail the caller: a failed write is logged and reported as WriteFailed.
package embedcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// entryExt is the file extension of cache entries.
const entryExt = ".emb"

// entryMagic prefixes every entry file.
var entryMagic = [4]byte{'E', 'M', 'B', '1'}

// WriteOutcome is the result of a Put.
type WriteOutcome int

const (
	// WriteOK means the entry is on disk.
	WriteOK WriteOutcome = iota
	// WriteFailed means the entry was not stored; the next Get misses.
	WriteFailed
)

func (o WriteOutcome) String() string {
	if o == WriteOK {
		return "ok"
	}
	return "failed"
}

// Stats describes the cache directory contents.
type Stats struct {
	// Count is the number of entry files.
	Count int `json:"count"`
	// SizeBytes is the total size of all entry files.
	SizeBytes int64 `json:"size_bytes"`
}

// Cache is a directory of embedding entries. It is safe for concurrent use.
type Cache struct {
	// dir is the cache directory.
	dir string
	// mu serializes writes and clears. Reads and Stats do not take it.
	mu sync.Mutex
	// log receives write failures and corrupt-entry notices.
	log *slog.Logger
}

// Open returns a Cache rooted at dir, creating the directory if needed.
func Open(dir string, log *slog.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("embedcache: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("embedcache: create %s: %w", dir, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{dir: dir, log: log}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Key returns the hex digest identifying (model, text).
func Key(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+entryExt)
}

// Get returns the cached vector for (text, model). Missing, truncated, or
// corrupt entries are reported as a miss.
func (c *Cache) Get(text, model string) ([]float32, bool) {
	key := Key(model, text)
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	vec, err := decode(data)
	if err != nil {
		c.log.Debug("embedcache: unreadable entry treated as miss",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil, false
	}
	return vec, true
}

// Put stores vec for (text, model). Concurrent writers to the same key are
// serialized and the last one wins.
func (c *Cache) Put(text, model string, vec []float32) WriteOutcome {
	key := Key(model, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write(key, encode(vec)); err != nil {
		c.log.Warn("embedcache: write failed, entry will be re-embedded",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return WriteFailed
	}
	return WriteOK
}

// write stores data under key via a temp file in the cache directory.
func (c *Cache) write(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".tmp-"+key[:8]+"-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Clear removes every entry and returns how many were deleted.
func (c *Cache) Clear() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("embedcache: clear: %w", err)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, entryExt) || strings.HasPrefix(name, ".tmp-")) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("embedcache: clear %s: %w", name, err)
		}
		if strings.HasSuffix(name, entryExt) {
			removed++
		}
	}
	return removed, nil
}

// Stats scans the cache directory. It does not take the write lock, so the
// result may miss entries written while the scan runs.
func (c *Cache) Stats() (Stats, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return Stats{}, fmt.Errorf("embedcache: stats: %w", err)
	}
	var st Stats
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entryExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		st.Count++
		st.SizeBytes += info.Size()
	}
	return st, nil
}

// encode serializes vec as magic, dimension, values, and a CRC-32 trailer.
func encode(vec []float32) []byte {
	buf := make([]byte, 0, 4+4+4*len(vec)+4)
	buf = append(buf, entryMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vec))) //nolint:gosec // dimensions are small
	for _, v := range vec {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// decode parses an entry written by encode.
func decode(data []byte) ([]float32, error) {
	if len(data) < 12 || !bytes.Equal(data[:4], entryMagic[:]) {
		return nil, errors.New("bad header")
	}
	dim := int(binary.LittleEndian.Uint32(data[4:8]))
	if dim == 0 || len(data) != 8+4*dim+4 {
		return nil, fmt.Errorf("length %d does not match dimension %d", len(data), dim)
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, errors.New("checksum mismatch")
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[8+4*i:]))
	}
	return vec, nil
}
