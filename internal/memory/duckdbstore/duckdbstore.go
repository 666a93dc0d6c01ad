// Package duckdbstore implements the relational MemoryStore/VectorStore
// adapter over github.com/duckdb/duckdb-go/v2, grounded on spec §4.4/§6.1's
// DuckDB row: memory_items and memory_vectors tables in a single-file DB.
package duckdbstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/devsynth/hybridmemory/internal/core"
)

// Store is the DuckDB-backed adapter.
type Store struct {
	name string
	db   *sql.DB
	dim  int // vector collection dimension, fixed by first stored vector
}

// Open opens (creating if absent) a DuckDB database file at path, building
// the memory_items/memory_vectors tables.
func Open(name, path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, core.NewError("duckdbstore.Open", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS memory_items (
			id VARCHAR PRIMARY KEY, content VARCHAR, memory_type VARCHAR,
			metadata VARCHAR, created_at VARCHAR)`,
		`CREATE TABLE IF NOT EXISTS memory_vectors (
			id VARCHAR PRIMARY KEY, embedding VARCHAR, content VARCHAR,
			metadata VARCHAR, created_at VARCHAR)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return nil, core.NewError("duckdbstore.Open", core.KindAdapter, core.CodeMemoryStoreError, err)
		}
	}
	return &Store{name: name, db: db}, nil
}

func (s *Store) Name() string { return s.name }
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Store(ctx context.Context, item core.MemoryItem) (string, error) {
	content, _ := json.Marshal(item.Content)
	meta, _ := json.Marshal(core.ToSerializable(item.Metadata))
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_items (id, content, memory_type, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, string(content), string(item.Type), string(meta), item.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", core.NewError("duckdbstore.Store", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return item.ID, nil
}

func (s *Store) Retrieve(ctx context.Context, id string) (*core.MemoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT content, memory_type, metadata, created_at FROM memory_items WHERE id = ?`, id)
	var content, memType, meta, createdAt string
	if err := row.Scan(&content, &memType, &meta, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewError("duckdbstore.Retrieve", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
		}
		return nil, core.NewError("duckdbstore.Retrieve", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	var c any
	_ = json.Unmarshal([]byte(content), &c)
	var m map[string]any
	_ = json.Unmarshal([]byte(meta), &m)
	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	return &core.MemoryItem{ID: id, Content: c, Type: core.MemoryType(memType), Metadata: core.FromSerializable(m), CreatedAt: created}, nil
}

func (s *Store) Search(ctx context.Context, query core.Query) ([]core.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, memory_type, metadata, created_at FROM memory_items`)
	if err != nil {
		return nil, core.NewError("duckdbstore.Search", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	defer rows.Close()
	var out []core.MemoryRecord
	for rows.Next() {
		var id, content, memType, meta, createdAt string
		if err := rows.Scan(&id, &content, &memType, &meta, &createdAt); err != nil {
			continue
		}
		var c any
		_ = json.Unmarshal([]byte(content), &c)
		var m map[string]any
		_ = json.Unmarshal([]byte(meta), &m)
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		item := core.MemoryItem{ID: id, Content: c, Type: core.MemoryType(memType), Metadata: core.FromSerializable(m), CreatedAt: created}
		if query.Text != "" {
			cs, _ := c.(string)
			if !containsSubstring(cs, query.Text) {
				continue
			}
		}
		out = append(out, core.RecordFromItem(item, s.name))
	}
	return out, nil
}

func containsSubstring(s, sub string) bool {
	if sub == "" {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ?`, id)
	if err != nil {
		return false, core.NewError("duckdbstore.Delete", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) GetAll(ctx context.Context) ([]core.MemoryItem, error) {
	records, err := s.Search(ctx, core.Query{})
	if err != nil {
		return nil, err
	}
	out := make([]core.MemoryItem, 0, len(records))
	for _, r := range records {
		if r.Item != nil {
			out = append(out, *r.Item)
		}
	}
	return out, nil
}

// --- vector support ---

func (s *Store) StoreVector(ctx context.Context, v core.MemoryVector) (string, error) {
	if s.dim == 0 {
		s.dim = len(v.Embedding)
	} else if len(v.Embedding) != s.dim {
		return "", core.NewError("duckdbstore.StoreVector", core.KindAdapter, core.CodeValidationError, core.ErrDimensionMismatch)
	}
	emb, _ := json.Marshal(v.Embedding)
	content, _ := json.Marshal(v.Content)
	meta, _ := json.Marshal(core.ToSerializable(v.Metadata))
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_vectors (id, embedding, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		v.ID, string(emb), string(content), string(meta), v.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", core.NewError("duckdbstore.StoreVector", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return v.ID, nil
}

func (s *Store) RetrieveVector(ctx context.Context, id string) (*core.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT embedding, content, metadata, created_at FROM memory_vectors WHERE id = ?`, id)
	var emb, content, meta, createdAt string
	if err := row.Scan(&emb, &content, &meta, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewError("duckdbstore.RetrieveVector", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
		}
		return nil, core.NewError("duckdbstore.RetrieveVector", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	var embedding []float64
	_ = json.Unmarshal([]byte(emb), &embedding)
	var c any
	_ = json.Unmarshal([]byte(content), &c)
	var m map[string]any
	_ = json.Unmarshal([]byte(meta), &m)
	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	vec := core.MemoryVector{ID: id, Embedding: embedding, Content: c, Metadata: core.FromSerializable(m), CreatedAt: created}
	rec := core.RecordFromVector(vec, s.name, nil)
	return &rec, nil
}

func (s *Store) SimilaritySearch(ctx context.Context, embedding []float64, topK int) ([]core.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding, content, metadata, created_at FROM memory_vectors`)
	if err != nil {
		return nil, core.NewError("duckdbstore.SimilaritySearch", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	defer rows.Close()
	type scored struct {
		rec  core.MemoryRecord
		dist float64
	}
	var all []scored
	for rows.Next() {
		var id, emb, content, meta, createdAt string
		if err := rows.Scan(&id, &emb, &content, &meta, &createdAt); err != nil {
			continue
		}
		var e []float64
		_ = json.Unmarshal([]byte(emb), &e)
		dist := euclidean(embedding, e)
		var c any
		_ = json.Unmarshal([]byte(content), &c)
		var m map[string]any
		_ = json.Unmarshal([]byte(meta), &m)
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		vec := core.MemoryVector{ID: id, Embedding: e, Content: c, Metadata: core.FromSerializable(m), CreatedAt: created}
		sim := 1.0 / (1.0 + dist)
		all = append(all, scored{rec: core.RecordFromVector(vec, s.name, &sim), dist: dist})
	}
	// Simple selection sort by ascending distance (Euclidean fallback, per
	// spec §4.4's "native function when extension loaded, Python fallback
	// (Euclidean) otherwise" — this adapter always uses the fallback path).
	for i := 0; i < len(all); i++ {
		minIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].dist < all[minIdx].dist {
				minIdx = j
			}
		}
		all[i], all[minIdx] = all[minIdx], all[i]
	}
	if topK > 0 && topK < len(all) {
		all = all[:topK]
	}
	out := make([]core.MemoryRecord, len(all))
	for i, s := range all {
		out[i] = s.rec
	}
	return out, nil
}

func euclidean(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (s *Store) DeleteVector(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE id = ?`, id)
	if err != nil {
		return false, core.NewError("duckdbstore.DeleteVector", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CollectionStats(ctx context.Context) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_vectors`)
	var count int
	if err := row.Scan(&count); err != nil {
		return nil, core.NewError("duckdbstore.CollectionStats", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return map[string]any{"count": count, "dimension": s.dim}, nil
}
