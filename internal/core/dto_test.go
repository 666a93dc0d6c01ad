package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryMetadataCloneIsIndependentOneLevelDeep(t *testing.T) {
	original := MemoryMetadata{
		"owner": "alice",
		"nested": map[string]any{
			"tags": []any{"a", "b"},
		},
		"list": []any{1, 2, 3},
	}
	clone := original.Clone()
	clone["owner"] = "bob"
	nested := clone["nested"].(MemoryMetadata)
	nested["extra"] = true
	clone["list"].([]any)[0] = 99

	assert.Equal(t, "alice", original["owner"])
	assert.NotContains(t, original["nested"].(map[string]any), "extra")
	assert.Equal(t, 1, original["list"].([]any)[0])
}

func TestMemoryMetadataCloneOfNilReturnsEmpty(t *testing.T) {
	var m MemoryMetadata
	clone := m.Clone()
	assert.NotNil(t, clone)
	assert.Empty(t, clone)
}

func TestMemoryItemCloneDeepCopiesMetadata(t *testing.T) {
	item := MemoryItem{
		ID:        "i1",
		Content:   "hello",
		Type:      MemoryShortTerm,
		Metadata:  MemoryMetadata{"owner": "alice"},
		CreatedAt: time.Now(),
	}
	clone := item.Clone()
	clone.Metadata["owner"] = "bob"
	assert.Equal(t, "alice", item.Metadata["owner"])
}

func TestMemoryVectorCloneDeepCopiesEmbeddingAndMetadata(t *testing.T) {
	vec := MemoryVector{
		ID:        "v1",
		Embedding: []float64{1, 2, 3},
		Metadata:  MemoryMetadata{"owner": "alice"},
	}
	clone := vec.Clone()
	clone.Embedding[0] = 99
	clone.Metadata["owner"] = "bob"

	assert.Equal(t, float64(1), vec.Embedding[0])
	assert.Equal(t, "alice", vec.Metadata["owner"])
}

func TestMemoryRecordIDPrefersItemThenVectorThenEmpty(t *testing.T) {
	itemRec := MemoryRecord{Item: &MemoryItem{ID: "item-id"}}
	assert.Equal(t, "item-id", itemRec.ID())

	vecRec := MemoryRecord{Vector: &MemoryVector{ID: "vec-id"}}
	assert.Equal(t, "vec-id", vecRec.ID())

	assert.Equal(t, "", MemoryRecord{}.ID())
}

func TestRecordFromItemWrapsWithSource(t *testing.T) {
	rec := RecordFromItem(MemoryItem{ID: "i1"}, "kv")
	assert.Equal(t, "kv", rec.Source)
	assert.Equal(t, "i1", rec.ID())
	assert.Nil(t, rec.Vector)
}

func TestRecordFromVectorWrapsWithSourceAndSimilarity(t *testing.T) {
	sim := 0.75
	rec := RecordFromVector(MemoryVector{ID: "v1"}, "faiss", &sim)
	assert.Equal(t, "faiss", rec.Source)
	assert.Equal(t, "v1", rec.ID())
	require := sim
	assert.Equal(t, require, *rec.Similarity)
	assert.Nil(t, rec.Item)
}

func TestTextQueryAndPredicateQueryConstructors(t *testing.T) {
	q := TextQuery("find me")
	assert.Equal(t, "find me", q.Text)
	assert.Nil(t, q.Predicates)

	p := PredicateQuery(map[string]any{"metadata.owner": "alice"})
	assert.Equal(t, "alice", p.Predicates["metadata.owner"])
	assert.Empty(t, p.Text)
}
