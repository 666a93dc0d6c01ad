package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsynth/hybridmemory/internal/core"
)

func TestInMemoryStoreRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New("tinydb")
	item := core.MemoryItem{ID: "i1", Content: "hello", Type: core.MemoryShortTerm, Metadata: map[string]any{"tag": "a"}}

	id, err := s.Store(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "i1", id)

	got, err := s.Retrieve(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "a", got.Metadata["tag"])
}

func TestInMemoryRetrieveMissingReturnsNotFound(t *testing.T) {
	s := New("tinydb")
	_, err := s.Retrieve(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestInMemoryStoreOverwritesSameID(t *testing.T) {
	ctx := context.Background()
	s := New("tinydb")
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "first"})
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "second"})

	got, err := s.Retrieve(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)
}

func TestInMemoryDeleteReportsPresence(t *testing.T) {
	ctx := context.Background()
	s := New("tinydb")
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "x"})

	deleted, err := s.Delete(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deletedAgain, err := s.Delete(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}

func TestInMemorySearchMatchesTextAndPredicates(t *testing.T) {
	ctx := context.Background()
	s := New("tinydb")
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "find me please", Type: core.MemoryShortTerm, Metadata: map[string]any{"owner": "alice"}})
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i2", Content: "skip this one", Type: core.MemoryLongTerm})

	results, err := s.Search(ctx, core.Query{Text: "find"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "i1", results[0].Item.ID)

	results, err = s.Search(ctx, core.Query{Predicates: map[string]any{"metadata.owner": "alice"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "i1", results[0].Item.ID)

	results, err = s.Search(ctx, core.Query{Predicates: map[string]any{"unknown_key": "x"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInMemoryGetAllEnumeratesEverything(t *testing.T) {
	ctx := context.Background()
	s := New("tinydb")
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i1", Content: "a"})
	_, _ = s.Store(ctx, core.MemoryItem{ID: "i2", Content: "b"})

	items, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
