package vectorindex

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Payload keys stored on every Qdrant point.
const (
	payloadText     = "text"
	payloadSource   = "source_id"
	payloadOrder    = "order"
	payloadOverlap  = "overlap"
	payloadPosition = "position"
)

// scrollPage is the page size used when mirroring a collection on Load.
const scrollPage = 256

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string `yaml:"host"`

	// Port is the Qdrant gRPC port (default: 6334).
	Port int `yaml:"port"`

	// Collection is the Qdrant collection name to use.
	Collection string `yaml:"collection"`

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string `yaml:"-"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `yaml:"use_tls"`
}

// Qdrant stores vectors in a remote Qdrant collection with cosine distance.
// Vectors are expected to be unit length, so cosine scores map back to
// squared L2 distance as 2 - 2*score. A local mirror of the chunks keeps
// Chunks and Len cheap and gives every point a stable position.
type Qdrant struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg QdrantConfig

	// wmu serializes Add.
	wmu sync.Mutex

	// mu guards the fields below.
	mu sync.RWMutex
	// dim is the collection vector size, 0 until known.
	dim int
	// chunks mirrors the collection ordered by position.
	chunks []rag.Chunk
	// ids maps point UUID to position.
	ids map[string]int
}

// NewQdrant connects to Qdrant. The collection is created lazily on the
// first Add, once the embedding dimension is known.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "docrag"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &Qdrant{client: client, cfg: cfg, ids: make(map[string]int)}, nil
}

// Client exposes the gRPC client for health probes.
func (q *Qdrant) Client() *qdrant.Client { return q.client }

// Kind implements rag.VectorIndex.
func (q *Qdrant) Kind() rag.StoreKind { return rag.StoreQdrant }

// pointID derives the point UUID from the chunk's stable ID.
func pointID(c rag.Chunk) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.ID())).String()
}

// ensureCollection creates the collection with the given vector size if it
// does not already exist.
func (q *Qdrant) ensureCollection(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return rag.Classify("qdrant: check collection", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim), //nolint:gosec // embedding dims are small
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return rag.Classify(fmt.Sprintf("qdrant: create collection %q", q.cfg.Collection), err)
	}
	return nil
}

// Add upserts the batch with wait=true. The local mirror only changes after
// Qdrant acknowledges the whole batch.
func (q *Qdrant) Add(ctx context.Context, vectors [][]float32, chunks []rag.Chunk) error {
	if len(vectors) == 0 && len(chunks) == 0 {
		return nil
	}
	q.wmu.Lock()
	defer q.wmu.Unlock()

	q.mu.RLock()
	dim, n := q.dim, len(q.chunks)
	ids := make(map[string]int, len(q.ids)+len(chunks))
	for k, v := range q.ids {
		ids[k] = v
	}
	next := append(make([]rag.Chunk, 0, n+len(chunks)), q.chunks...)
	q.mu.RUnlock()

	probe := &matrix{dim: dim}
	dim, err := probe.checkBatch("qdrant: add", vectors, chunks)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := q.ensureCollection(ctx, dim); err != nil {
			return err
		}
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, ch := range chunks {
		id := pointID(ch)
		pos, ok := ids[id]
		if ok {
			next[pos] = ch
		} else {
			pos = len(next)
			ids[id] = pos
			next = append(next, ch)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadText:     ch.Text,
				payloadSource:   ch.SourceID,
				payloadOrder:    int64(ch.Order),
				payloadOverlap:  int64(ch.Overlap),
				payloadPosition: int64(pos),
			}),
		})
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return rag.Classify("qdrant: upsert", err)
	}

	q.mu.Lock()
	q.dim, q.chunks, q.ids = dim, next, ids
	q.mu.Unlock()
	return nil
}

// Search performs a cosine similarity search and returns the top-k hits
// with distances converted to squared L2.
func (q *Qdrant) Search(ctx context.Context, query []float32, k int) ([]rag.Hit, error) {
	q.mu.RLock()
	dim, n := q.dim, len(q.chunks)
	q.mu.RUnlock()

	if n == 0 || k <= 0 {
		return []rag.Hit{}, nil
	}
	if len(query) != dim {
		return nil, rag.E(rag.KindFatal, "qdrant: search",
			fmt.Errorf("query has dimension %d, index holds %d: %w", len(query), dim, rag.ErrDimensionMismatch))
	}

	limit := uint64(min(k, n)) //nolint:gosec // k > 0
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, rag.Classify("qdrant: search", err)
	}

	hits := make([]rag.Hit, 0, len(results))
	for _, r := range results {
		ch, pos := chunkFromPayload(r.GetPayload())
		hits = append(hits, rag.Hit{
			Position: pos,
			Chunk:    ch,
			Distance: max(0, 2-2*r.GetScore()),
		})
	}
	return hits, nil
}

// Persist is a no-op: upserts are acknowledged only once durable.
func (q *Qdrant) Persist(context.Context) error { return nil }

// Load mirrors the collection's chunks locally. It returns false when the
// collection does not exist or is empty.
func (q *Qdrant) Load(ctx context.Context) (bool, error) {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return false, rag.Classify("qdrant: load", err)
	}
	if !exists {
		return false, nil
	}

	info, err := q.client.GetCollectionInfo(ctx, q.cfg.Collection)
	if err != nil {
		return false, rag.Classify("qdrant: load collection info", err)
	}
	dim := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()) //nolint:gosec // small

	var (
		chunks    []rag.Chunk
		positions []int
		offset    *qdrant.PointId
	)
	limit := uint32(scrollPage)
	for {
		page, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.cfg.Collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return false, rag.Classify("qdrant: load scroll", err)
		}
		// the offset point is returned again as the first element of the next page
		if offset != nil && len(page) > 0 {
			page = page[1:]
		}
		for _, p := range page {
			ch, pos := chunkFromPayload(p.GetPayload())
			chunks = append(chunks, ch)
			positions = append(positions, pos)
		}
		if len(page) == 0 || len(page) < scrollPage-1 {
			break
		}
		offset = page[len(page)-1].GetId()
	}

	ordered := make([]rag.Chunk, len(chunks))
	seen := make([]bool, len(chunks))
	for i, pos := range positions {
		if pos < 0 || pos >= len(chunks) || seen[pos] {
			return false, rag.Errorf(rag.KindFatal, "qdrant: load", "point positions are not contiguous (position %d of %d)", pos, len(chunks))
		}
		seen[pos] = true
		ordered[pos] = chunks[i]
	}
	ids := make(map[string]int, len(ordered))
	for pos, ch := range ordered {
		ids[pointID(ch)] = pos
	}

	q.mu.Lock()
	q.dim, q.chunks, q.ids = dim, ordered, ids
	q.mu.Unlock()
	return len(ordered) > 0, nil
}

// Len implements rag.VectorIndex.
func (q *Qdrant) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.chunks)
}

// Dim implements rag.VectorIndex.
func (q *Qdrant) Dim() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dim
}

// Chunks implements rag.VectorIndex.
func (q *Qdrant) Chunks() []rag.Chunk {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.chunks)
}

// Close closes the underlying Qdrant gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

func chunkFromPayload(p map[string]*qdrant.Value) (rag.Chunk, int) {
	ch := rag.Chunk{
		Text:     p[payloadText].GetStringValue(),
		SourceID: p[payloadSource].GetStringValue(),
		Order:    int(p[payloadOrder].GetIntegerValue()),
		Overlap:  int(p[payloadOverlap].GetIntegerValue()),
	}
	return ch, int(p[payloadPosition].GetIntegerValue())
}
