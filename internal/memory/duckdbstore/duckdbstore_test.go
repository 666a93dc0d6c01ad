package duckdbstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsynth/hybridmemory/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.duckdb")
	s, err := Open("duckdb", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Store(ctx, core.MemoryItem{ID: "i1", Content: "hello", Type: core.MemoryShortTerm, Metadata: map[string]any{"owner": "bob"}})
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "bob", got.Metadata["owner"])
}

func TestRetrieveMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Retrieve(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestStoreOverwritesSameID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "first"})
	_, err := s.Store(ctx, core.MemoryItem{ID: "i1", Content: "second"})
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)
}

func TestSearchMatchesText(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "find me here"})
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i2", Content: "irrelevant"})

	results, err := s.Search(ctx, core.Query{Text: "find"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "i1", results[0].Item.ID)
}

func TestDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "x"})

	deleted, err := s.Delete(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deletedAgain, err := s.Delete(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}

func TestGetAllEnumeratesItems(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "a"})
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i2", Content: "b"})

	items, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestVectorStoreRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.StoreVector(ctx, core.MemoryVector{ID: "v1", Embedding: []float64{1, 0, 0}, Content: "vec one"})
	require.NoError(t, err)

	rec, err := s.RetrieveVector(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, rec.Vector)
	assert.Equal(t, []float64{1, 0, 0}, rec.Vector.Embedding)
}

func TestStoreVectorRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.StoreVector(ctx, core.MemoryVector{ID: "v1", Embedding: []float64{1, 0, 0}})
	require.NoError(t, err)

	_, err = s.StoreVector(ctx, core.MemoryVector{ID: "v2", Embedding: []float64{1, 0}})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestSimilaritySearchOrdersByClosestEuclideanDistance(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.StoreVector(ctx, core.MemoryVector{ID: "far", Embedding: []float64{10, 10, 10}})
	_, _ = s.StoreVector(ctx, core.MemoryVector{ID: "near", Embedding: []float64{1, 0, 0}})

	results, err := s.SimilaritySearch(ctx, []float64{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].Vector.ID)
	assert.Equal(t, "far", results[1].Vector.ID)
}

func TestDeleteVectorReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.StoreVector(ctx, core.MemoryVector{ID: "v1", Embedding: []float64{1, 2, 3}})

	deleted, err := s.DeleteVector(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestCollectionStatsReportsCount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.StoreVector(ctx, core.MemoryVector{ID: "v1", Embedding: []float64{1, 2, 3}})
	_, _ = s.StoreVector(ctx, core.MemoryVector{ID: "v2", Embedding: []float64{4, 5, 6}})

	stats, err := s.CollectionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats["count"])
	assert.Equal(t, 3, stats["dimension"])
}
