package core

import "time"

// ToSerializable converts a MemoryMetadata mapping into a plain
// map[string]any suitable for JSON/Turtle/row encoding: datetimes become
// ISO-8601 strings, byte slices become UTF-8 strings (lossy), and nested
// maps/slices recurse. Other primitives pass through unchanged.
func ToSerializable(m MemoryMetadata) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = serializeValue(v)
	}
	return out
}

func serializeValue(v any) any {
	switch vv := v.(type) {
	case time.Time:
		return vv.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(vv)
	case MemoryMetadata:
		return ToSerializable(vv)
	case map[string]any:
		return ToSerializable(MemoryMetadata(vv))
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = serializeValue(item)
		}
		return out
	default:
		return v
	}
}

// FromSerializable reverses ToSerializable: strings are tried against
// RFC3339/ISO-8601 parsing and kept as time.Time on success, else passed
// through as-is; nested maps/slices recurse.
func FromSerializable(payload map[string]any) MemoryMetadata {
	out := make(MemoryMetadata, len(payload))
	for k, v := range payload {
		out[k] = deserializeValue(v)
	}
	return out
}

func deserializeValue(v any) any {
	switch vv := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, vv); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, vv); err == nil {
			return t
		}
		return vv
	case map[string]any:
		return FromSerializable(vv)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = deserializeValue(item)
		}
		return out
	default:
		return v
	}
}

// RowFieldNames configures the field names a persistence row uses for the
// metadata/similarity/source columns, with a default source name fallback.
type RowFieldNames struct {
	MetadataField   string
	SimilarityField string
	SourceField     string
	DefaultSource   string
}

// DefaultRowFieldNames mirrors the conventional column names.
func DefaultRowFieldNames(defaultSource string) RowFieldNames {
	return RowFieldNames{
		MetadataField:   "metadata",
		SimilarityField: "similarity",
		SourceField:     "source",
		DefaultSource:   defaultSource,
	}
}

// RecordFromRow assembles a MemoryRecord from a raw persistence row (e.g. a
// DuckDB/bbolt row decoded into a map), honoring configurable field names.
func RecordFromRow(row map[string]any, item MemoryItem, names RowFieldNames) MemoryRecord {
	source := names.DefaultSource
	if s, ok := row[names.SourceField].(string); ok && s != "" {
		source = s
	}
	if meta, ok := row[names.MetadataField].(map[string]any); ok {
		item.Metadata = FromSerializable(meta)
	}
	rec := RecordFromItem(item, source)
	if sim, ok := row[names.SimilarityField].(float64); ok {
		rec.Similarity = &sim
	}
	return rec
}

// QueryResultsFromRows shapes raw rows into a MemoryQueryResults, attaching
// optional total/latency/metadata.
func QueryResultsFromRows(store string, records []MemoryRecord, total *int, latencyMs *float64, metadata MemoryMetadata) MemoryQueryResults {
	return MemoryQueryResults{
		Store:     store,
		Records:   records,
		Total:     total,
		LatencyMs: latencyMs,
		Metadata:  metadata,
	}
}
