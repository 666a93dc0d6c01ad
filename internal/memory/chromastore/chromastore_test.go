package chromastore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"

	"github.com/devsynth/hybridmemory/internal/core"
)

// These cover the pure helpers only: StoreVector/SimilaritySearch/etc.
// require a live Qdrant instance and are not exercised by the tests in this
// module.

func TestToFloat32RoundTrips(t *testing.T) {
	in := []float64{0.5, -1.25, 3}
	out := toFloat32(in)
	assert.Equal(t, []float32{0.5, -1.25, 3}, out)
	assert.Equal(t, in, toFloat64(out))
}

func TestVectorPayloadOmitsNilContent(t *testing.T) {
	v := core.MemoryVector{ID: "x", Content: "note", Metadata: core.MemoryMetadata{"owner": "alice"}}
	payload := vectorPayload(v)
	assert.Equal(t, "note", payload["content"])
	assert.Equal(t, "alice", payload["meta_owner"])

	empty := core.MemoryVector{ID: "y"}
	assert.NotContains(t, vectorPayload(empty), "content")
}

func TestQdrantValueToAnyHandlesKinds(t *testing.T) {
	assert.Equal(t, "x", qdrantValueToAny(&qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: "x"}}))
	assert.Equal(t, int64(7), qdrantValueToAny(&qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: 7}}))
	assert.Equal(t, true, qdrantValueToAny(&qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: true}}))
	assert.Nil(t, qdrantValueToAny(nil))
}
