package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/rag"
)

func openTestCollection(t *testing.T, path string) *Collection {
	t.Helper()
	c, err := OpenCollection(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCollection_AddAndSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := openTestCollection(t, ":memory:")
	assert.Equal(t, rag.StoreCollection, c.Kind())

	vecs, chunks := sampleBatch()
	require.NoError(t, c.Add(ctx, vecs, chunks))
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 3, c.Dim())

	hits, err := c.Search(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "gamma", hits[0].Chunk.Text)
	assert.Equal(t, 2, hits[0].Position)
}

func TestCollection_UpsertReplacesInPlace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := openTestCollection(t, ":memory:")

	vecs, chunks := sampleBatch()
	require.NoError(t, c.Add(ctx, vecs, chunks))

	replacement := rag.Chunk{Text: "beta v2", SourceID: "a.txt", Order: 1}
	require.NoError(t, c.Add(ctx, [][]float32{{0, 0, 1}}, []rag.Chunk{replacement}))

	assert.Equal(t, 4, c.Len(), "same source and order must not grow the collection")
	assert.Equal(t, "beta v2", c.Chunks()[1].Text)
}

func TestCollection_RejectsDimensionMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := openTestCollection(t, ":memory:")

	vecs, chunks := sampleBatch()
	require.NoError(t, c.Add(ctx, vecs, chunks))

	err := c.Add(ctx, [][]float32{{1, 2}}, []rag.Chunk{{Text: "x", SourceID: "z"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrDimensionMismatch)
	assert.Equal(t, 4, c.Len())
}

func TestCollection_ReopenRestoresOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), CollectionFile)

	first, err := OpenCollection(path)
	require.NoError(t, err)
	vecs, chunks := sampleBatch()
	require.NoError(t, first.Add(ctx, vecs, chunks))
	require.NoError(t, first.Persist(ctx))
	want, err := first.Search(ctx, []float32{0.6, 0.8, 0}, 4)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openTestCollection(t, path)
	ok, err := second.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chunks, second.Chunks())

	got, err := second.Search(ctx, []float32{0.6, 0.8, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCollection_LoadEmpty(t *testing.T) {
	t.Parallel()
	c := openTestCollection(t, ":memory:")
	ok, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVectorCodec(t *testing.T) {
	t.Parallel()
	v := []float32{1.5, -2, 0, 3e-9}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
