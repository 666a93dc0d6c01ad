// Package faissstore implements the VectorStore adapter over
// github.com/blevesearch/go-faiss's flat L2 index, grounded on spec
// §4.4/§6.1's FAISS row and Scenario S3.
package faissstore

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/go-faiss"

	"github.com/devsynth/hybridmemory/internal/core"
)

type entry struct {
	ID        string         `json:"id"`
	Embedding []float32      `json:"embedding"`
	Content   any            `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
	Position  int64          `json:"position"`
	IsDeleted bool           `json:"is_deleted"`
}

// Store is the FAISS-backed VectorStore adapter: a flat L2 index plus a
// metadata.json side store. Soft-deletes set IsDeleted rather than
// compacting the index, since go-faiss's flat index has no removal API.
type Store struct {
	name     string
	dir      string
	dim      int
	mu       sync.RWMutex
	index    *faiss.IndexFlat
	metadata map[string]*entry
	order    []string // position -> id
}

// Open builds a FAISS store rooted at dir with a fixed embedding dimension.
// The flat L2 index always starts empty and is held in memory only; it is
// not written to or read from dir. When dir is set, entries are reloaded
// from dir/metadata.json: they can be retrieved by id, but they are not in
// the index and are not returned by SimilaritySearch.
func Open(name, dir string, dimension int) (*Store, error) {
	idx, err := faiss.NewIndexFlatL2(dimension)
	if err != nil {
		return nil, core.NewError("faissstore.Open", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	s := &Store{name: name, dir: dir, dim: dimension, index: idx, metadata: make(map[string]*entry)}
	if dir != "" {
		_ = s.loadMetadata()
	}
	return s, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) metadataPath() string {
	if s.dir == "" {
		return ""
	}
	return s.dir + "/metadata.json"
}

func (s *Store) loadMetadata() error {
	path := s.metadataPath()
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries map[string]*entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return core.NewError("faissstore.loadMetadata", core.KindAdapter, core.CodeMemoryCorruption, core.ErrCorruption)
	}
	s.metadata = entries
	return nil
}

func (s *Store) persistMetadata() error {
	path := s.metadataPath()
	if path == "" {
		return nil
	}
	raw, err := json.Marshal(s.metadata)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func (s *Store) StoreVector(_ context.Context, v core.MemoryVector) (string, error) {
	if len(v.Embedding) != s.dim {
		return "", core.NewError("faissstore.StoreVector", core.KindAdapter, core.CodeValidationError, core.ErrDimensionMismatch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vec := toFloat32(v.Embedding)
	if err := s.index.Add(vec); err != nil {
		return "", core.NewError("faissstore.StoreVector", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	pos := int64(len(s.order))
	s.order = append(s.order, v.ID)
	s.metadata[v.ID] = &entry{
		ID: v.ID, Embedding: vec, Content: v.Content,
		Metadata: core.ToSerializable(v.Metadata), CreatedAt: v.CreatedAt.UTC().Format(time.RFC3339Nano), Position: pos,
	}
	_ = s.persistMetadata()
	return v.ID, nil
}

func (s *Store) RetrieveVector(_ context.Context, id string) (*core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.metadata[id]
	if !ok || e.IsDeleted {
		return nil, core.NewError("faissstore.RetrieveVector", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	vec := core.MemoryVector{ID: e.ID, Embedding: toFloat64(e.Embedding), Content: e.Content, Metadata: core.FromSerializable(e.Metadata)}
	rec := core.RecordFromVector(vec, s.name, nil)
	return &rec, nil
}

// SimilaritySearch returns the top-k nearest vectors, with
// similarity = 1/(1+distance) per spec §4.4, excluding soft-deleted entries.
func (s *Store) SimilaritySearch(_ context.Context, embedding []float64, topK int) ([]core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(embedding) != s.dim || s.index.Ntotal() == 0 {
		return nil, nil
	}
	k := topK
	if k <= 0 {
		k = 1
	}
	search := int64(k)
	if search > s.index.Ntotal() {
		search = s.index.Ntotal()
	}
	distances, labels, err := s.index.Search(toFloat32(embedding), search)
	if err != nil {
		return nil, core.NewError("faissstore.SimilaritySearch", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	var out []core.MemoryRecord
	for i, pos := range labels {
		if pos < 0 || int(pos) >= len(s.order) {
			continue
		}
		id := s.order[pos]
		e, ok := s.metadata[id]
		if !ok || e.IsDeleted {
			continue
		}
		sim := 1.0 / (1.0 + float64(distances[i]))
		vec := core.MemoryVector{ID: e.ID, Embedding: toFloat64(e.Embedding), Content: e.Content, Metadata: core.FromSerializable(e.Metadata)}
		out = append(out, core.RecordFromVector(vec, s.name, &sim))
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (s *Store) DeleteVector(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.metadata[id]
	if !ok || e.IsDeleted {
		return false, nil
	}
	e.IsDeleted = true
	_ = s.persistMetadata()
	return true, nil
}

func (s *Store) CollectionStats(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := 0
	for _, e := range s.metadata {
		if !e.IsDeleted {
			active++
		}
	}
	return map[string]any{"total": s.index.Ntotal(), "active": active, "dimension": s.dim}, nil
}

func (s *Store) Close() error {
	return s.index.Close()
}
