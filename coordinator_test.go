package hybridmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsynth/hybridmemory/internal/core"
)

func TestNewRegistersDefaultAdapters(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tinydb", "graph", "vector"}, c.Registry.Names())
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := New()
	require.NoError(t, err)

	item := core.MemoryItem{ID: "i1", Content: "hello", Type: core.MemoryShortTerm, CreatedAt: time.Unix(0, 0)}
	require.NoError(t, c.Store(ctx, item))

	got, err := c.Retrieve(ctx, "tinydb", "i1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)

	got, err = c.Retrieve(ctx, "graph", "i1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
}

func TestRetrieveUnknownStoreErrors(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	_, err = c.Retrieve(context.Background(), "nope", "i1")
	assert.Error(t, err)
}

func TestDeleteRemovesFromEveryStore(t *testing.T) {
	ctx := context.Background()
	c, err := New()
	require.NoError(t, err)

	require.NoError(t, c.Store(ctx, core.MemoryItem{ID: "i1", Content: "x", Type: core.MemoryShortTerm}))
	assert.True(t, c.Delete(ctx, "i1"))

	_, err = c.Retrieve(ctx, "tinydb", "i1")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestSearchDirectAndCross(t *testing.T) {
	ctx := context.Background()
	c, err := New()
	require.NoError(t, err)
	require.NoError(t, c.Store(ctx, core.MemoryItem{ID: "i1", Content: "find me", Type: core.MemoryShortTerm}))

	direct, err := c.Search(ctx, core.TextQuery("find"), "tinydb")
	require.NoError(t, err)
	assert.Len(t, direct.Combined, 1)

	cross, err := c.Search(ctx, core.TextQuery("find"))
	require.NoError(t, err)
	assert.Len(t, cross.ByStore, 3)
}

func TestWithoutDefaultAdaptersStartsEmpty(t *testing.T) {
	c, err := New(WithoutDefaultAdapters())
	require.NoError(t, err)
	assert.Equal(t, 0, c.Registry.Len())
}
