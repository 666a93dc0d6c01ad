package graphstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsynth/hybridmemory/internal/core"
)

func TestStoreRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New("graph", "")
	require.NoError(t, err)

	_, err = s.Store(ctx, core.MemoryItem{
		ID:       "task-1",
		Content:  "draft the plan",
		Type:     core.MemoryShortTerm,
		Metadata: core.MemoryMetadata{"owner": "alice"},
	})
	require.NoError(t, err)

	item, err := s.Retrieve(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "draft the plan", item.Content)
	assert.Equal(t, "alice", item.Metadata["owner"])
}

func TestRetrieveMissingReturnsNotFound(t *testing.T) {
	s, err := New("graph", "")
	require.NoError(t, err)
	_, err = s.Retrieve(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestDeleteRemovesItemAndRelationships(t *testing.T) {
	ctx := context.Background()
	s, err := New("graph", "")
	require.NoError(t, err)

	_, err = s.Store(ctx, core.MemoryItem{ID: "a", Content: "A", Type: core.MemoryShortTerm})
	require.NoError(t, err)
	_, err = s.Store(ctx, core.MemoryItem{ID: "b", Content: "B", Type: core.MemoryShortTerm})
	require.NoError(t, err)
	require.NoError(t, s.CreateRelationship(ctx, "a", "b", "depends_on"))

	ok, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Retrieve(ctx, "a")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
	assert.Empty(t, s.FindRelatedItems(ctx, "b"))
}

func TestRelationshipUtilities(t *testing.T) {
	ctx := context.Background()
	s, err := New("graph", "")
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Store(ctx, core.MemoryItem{ID: id, Content: id, Type: core.MemoryShortTerm})
		require.NoError(t, err)
	}
	require.NoError(t, s.CreateRelationship(ctx, "a", "b", "depends_on"))
	require.NoError(t, s.CreateRelationship(ctx, "a", "c", "depends_on"))
	require.NoError(t, s.CreateRelationship(ctx, "b", "c", "blocks"))

	related := s.FindRelatedItems(ctx, "a")
	assert.ElementsMatch(t, []string{"b", "c"}, related)

	byRel := s.FindItemsByRelationship(ctx, "depends_on")
	assert.Len(t, byRel, 2)

	itemRels := s.GetItemRelationships(ctx, "b")
	require.Len(t, itemRels, 2)

	removed, err := s.DeleteRelationship(ctx, "a", "b", "depends_on")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.ElementsMatch(t, []string{"c"}, s.FindRelatedItems(ctx, "a"))
}

func TestGetSubgraphRespectsDepth(t *testing.T) {
	ctx := context.Background()
	s, err := New("graph", "")
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.Store(ctx, core.MemoryItem{ID: id, Content: id, Type: core.MemoryShortTerm})
		require.NoError(t, err)
	}
	require.NoError(t, s.CreateRelationship(ctx, "a", "b", "next"))
	require.NoError(t, s.CreateRelationship(ctx, "b", "c", "next"))
	require.NoError(t, s.CreateRelationship(ctx, "c", "d", "next"))

	sub := s.GetSubgraph(ctx, "a", 1)
	assert.ElementsMatch(t, []string{"a", "b"}, sub.Nodes)

	sub2 := s.GetSubgraph(ctx, "a", 2)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, sub2.Nodes)
}

func TestQueryGraphPatternMatchesType(t *testing.T) {
	ctx := context.Background()
	s, err := New("graph", "")
	require.NoError(t, err)
	_, err = s.Store(ctx, core.MemoryItem{ID: "a", Content: "A", Type: core.MemoryShortTerm})
	require.NoError(t, err)

	rows, err := s.QueryGraphPattern(ctx, `?id memory:type memory:MemoryItem .`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, subjectURI("a"), rows[0]["id"])
}

func TestTransactionMethodsAreNoOps(t *testing.T) {
	ctx := context.Background()
	s, err := New("graph", "")
	require.NoError(t, err)
	assert.NoError(t, s.BeginTransaction(ctx, "tx"))
	assert.NoError(t, s.PrepareCommit(ctx, "tx"))
	assert.NoError(t, s.CommitTransaction(ctx, "tx"))
	assert.NoError(t, s.RollbackTransaction(ctx, "tx"))
	assert.False(t, s.IsTransactionActive("tx"))
}

func TestVectorStoreAndSimilaritySearch(t *testing.T) {
	ctx := context.Background()
	s, err := New("graph", "")
	require.NoError(t, err)

	_, err = s.StoreVector(ctx, core.MemoryVector{ID: "v1", Embedding: []float64{1, 0}})
	require.NoError(t, err)
	_, err = s.StoreVector(ctx, core.MemoryVector{ID: "v2", Embedding: []float64{0, 1}})
	require.NoError(t, err)

	results, err := s.SimilaritySearch(ctx, []float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v1", results[0].ID())
}

func TestTurtlePersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.ttl")

	s, err := New("graph", path)
	require.NoError(t, err)
	_, err = s.Store(ctx, core.MemoryItem{ID: "a", Content: "hello world", Type: core.MemoryShortTerm, Metadata: core.MemoryMetadata{"k": "v"}})
	require.NoError(t, err)
	require.NoError(t, s.CreateRelationship(ctx, "a", "a", "self"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "@prefix memory:")

	reloaded, err := New("graph", path)
	require.NoError(t, err)
	item, err := reloaded.Retrieve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "hello world", item.Content)
	assert.Equal(t, "v", item.Metadata["k"])
	assert.ElementsMatch(t, []string{"a"}, reloaded.FindRelatedItems(ctx, "a"))
}
