package lmdbstore

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
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open("lmdb", path)
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

func TestSearchMatchesTextAndMetadataPredicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "find me here", Metadata: map[string]any{"owner": "alice"}})
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i2", Content: "irrelevant"})

	results, err := s.Search(ctx, core.Query{Text: "find"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "i1", results[0].Item.ID)

	results, err = s.Search(ctx, core.Query{Predicates: map[string]any{"metadata.owner": "alice"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "x"})

	existed, err := s.Delete(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, existed)

	existedAgain, err := s.Delete(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, existedAgain)
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

func TestTransactionCommitEndsActiveTransaction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.BeginTransaction(ctx, "tx1"))
	assert.True(t, s.IsTransactionActive("tx1"))
	require.NoError(t, s.CommitTransaction(ctx, "tx1"))
	assert.False(t, s.IsTransactionActive("tx1"))
}

func TestTransactionRollbackReleasesHandle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.BeginTransaction(ctx, "tx1"))
	require.NoError(t, s.RollbackTransaction(ctx, "tx1"))
	assert.False(t, s.IsTransactionActive("tx1"))
}

func TestUnknownTransactionIDsAreNoOps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	assert.NoError(t, s.CommitTransaction(ctx, "ghost"))
	assert.NoError(t, s.RollbackTransaction(ctx, "ghost"))
	assert.False(t, s.IsTransactionActive("ghost"))
}

func TestReopenRecoversPersistedItems(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")
	s1, err := Open("lmdb", path)
	require.NoError(t, err)
	_, err = s1.Store(ctx, core.MemoryItem{ID: "i1", Content: "durable"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open("lmdb", path)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Retrieve(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Content)
}
