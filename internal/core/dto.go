package core

import "time"

// MemoryType tags the semantic category of a MemoryItem.
type MemoryType string

const (
	MemoryShortTerm           MemoryType = "short-term"
	MemoryLongTerm            MemoryType = "long-term"
	MemoryWorking             MemoryType = "working"
	MemoryTeamState           MemoryType = "team-state"
	MemoryConsensusResult     MemoryType = "consensus-result"
	MemoryCollaborationTask   MemoryType = "collaboration-task"
	MemoryCollaborationMsg    MemoryType = "collaboration-message"
	MemoryPeerReview          MemoryType = "peer-review"
	MemoryCollaborationTeam   MemoryType = "collaboration-team"
)

// MemoryMetadata maps string keys to JSON-serializable primitives. Nested
// maps/slices of the same are permitted; datetimes are carried as time.Time
// and serialize as ISO-8601 at the adapter boundary (see metadata.go).
type MemoryMetadata map[string]any

// Clone returns a deep-ish copy sufficient for snapshot isolation: nested
// maps are cloned recursively; slices are copied one level (their elements
// are shared); scalar values are shared (immutable by convention).
func (m MemoryMetadata) Clone() MemoryMetadata {
	if m == nil {
		return MemoryMetadata{}
	}
	out := make(MemoryMetadata, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case MemoryMetadata:
			out[k] = vv.Clone()
		case map[string]any:
			out[k] = MemoryMetadata(vv).Clone()
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// MemoryItem is the core unit of stored content.
type MemoryItem struct {
	ID        string         `json:"id"`
	Content   any            `json:"content"`
	Type      MemoryType     `json:"memory_type"`
	Metadata  MemoryMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns an independent copy of the item, used by snapshot adapters.
func (i MemoryItem) Clone() MemoryItem {
	i.Metadata = i.Metadata.Clone()
	return i
}

// MemoryVector carries an embedding plus optional content.
type MemoryVector struct {
	ID        string         `json:"id"`
	Embedding []float64      `json:"embedding"`
	Content   any            `json:"content,omitempty"`
	Metadata  MemoryMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

func (v MemoryVector) Clone() MemoryVector {
	emb := make([]float64, len(v.Embedding))
	copy(emb, v.Embedding)
	v.Embedding = emb
	v.Metadata = v.Metadata.Clone()
	return v
}

// MemoryRecord wraps a MemoryItem or MemoryVector with retrieval-side
// fields. Exactly one of Item/Vector is populated.
type MemoryRecord struct {
	Item       *MemoryItem   `json:"item,omitempty"`
	Vector     *MemoryVector `json:"vector,omitempty"`
	Source     string        `json:"source"`
	Similarity *float64      `json:"similarity,omitempty"`
}

// ID returns the ID of the wrapped item or vector.
func (r MemoryRecord) ID() string {
	if r.Item != nil {
		return r.Item.ID
	}
	if r.Vector != nil {
		return r.Vector.ID
	}
	return ""
}

// RecordFromItem wraps an item as a record from the given source adapter.
func RecordFromItem(item MemoryItem, source string) MemoryRecord {
	return MemoryRecord{Item: &item, Source: source}
}

// RecordFromVector wraps a vector as a record from the given source adapter.
func RecordFromVector(vec MemoryVector, source string, similarity *float64) MemoryRecord {
	return MemoryRecord{Vector: &vec, Source: source, Similarity: similarity}
}

// MemoryQueryResults is a single store's response to a query.
type MemoryQueryResults struct {
	Store     string         `json:"store"`
	Records   []MemoryRecord `json:"records"`
	Total     *int           `json:"total,omitempty"`
	LatencyMs *float64       `json:"latency_ms,omitempty"`
	Metadata  MemoryMetadata `json:"metadata,omitempty"`
}

// GroupedMemoryResults is the cross-store aggregate shape.
type GroupedMemoryResults struct {
	ByStore  map[string]MemoryQueryResults `json:"by_store"`
	Combined []MemoryRecord                `json:"combined,omitempty"`
	Query    any                           `json:"query,omitempty"`
	Metadata MemoryMetadata                `json:"metadata,omitempty"`
}

// MemoryErrorRecord is the normalized error entry kept by the error logger.
type MemoryErrorRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Adapter   string         `json:"adapter"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Context   MemoryMetadata `json:"context,omitempty"`
}

// Query is the logical query accepted by every router strategy: either a
// free-text content string or a structured predicate mapping whose keys are
// "memory_type", "content", and "metadata.<field>".
type Query struct {
	Text       string
	Predicates map[string]any
}

// TextQuery builds a free-text Query.
func TextQuery(text string) Query { return Query{Text: text} }

// PredicateQuery builds a structured Query.
func PredicateQuery(predicates map[string]any) Query { return Query{Predicates: predicates} }
