// Package vectorstore implements the in-memory cosine-similarity
// VectorStore adapter, grounded on faissstore.Store's shape but dropping
// the on-disk FAISS index in favor of a plain map, with 2PC
// prepare/commit support via a snapshot-copy native transaction, matching
// spec §4.4's "Vector in-memory" row ("hash map + numpy arrays; snapshot
// copy; two-phase prepare/commit supported; cosine similarity").
package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/devsynth/hybridmemory/internal/core"
)

// Store is the dev/test-default VectorStore adapter with native
// transaction support.
type Store struct {
	name string
	dim  int

	mu      sync.RWMutex
	vectors map[string]core.MemoryVector
	deleted map[string]bool

	txMu sync.Mutex
	txns map[string]map[string]*core.MemoryVector // txID -> id -> pre-tx value (nil = absent)
}

// New builds a named in-memory vector store; dimension is inherited from
// the first vector stored if dimension <= 0.
func New(name string, dimension int) *Store {
	return &Store{name: name, dim: dimension, vectors: make(map[string]core.MemoryVector), deleted: make(map[string]bool), txns: make(map[string]map[string]*core.MemoryVector)}
}

func (s *Store) Name() string { return s.name }

func (s *Store) StoreVector(_ context.Context, v core.MemoryVector) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim <= 0 {
		s.dim = len(v.Embedding)
	}
	if len(v.Embedding) != s.dim {
		return "", core.NewError("vectorstore.StoreVector", core.KindAdapter, core.CodeValidationError, core.ErrDimensionMismatch)
	}
	s.journalLocked(v.ID)
	s.vectors[v.ID] = v.Clone()
	delete(s.deleted, v.ID)
	return v.ID, nil
}

func (s *Store) RetrieveVector(_ context.Context, id string) (*core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[id]
	if !ok || s.deleted[id] {
		return nil, core.NewError("vectorstore.RetrieveVector", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	clone := v.Clone()
	rec := core.RecordFromVector(clone, s.name, nil)
	return &rec, nil
}

// SimilaritySearch ranks stored vectors by descending cosine similarity,
// returning the top-k.
func (s *Store) SimilaritySearch(_ context.Context, embedding []float64, topK int) ([]core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 1
	}

	var candidates []scoredVector
	for id, v := range s.vectors {
		if s.deleted[id] {
			continue
		}
		candidates = append(candidates, scoredVector{vec: v, score: core.Cosine(embedding, v.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	n := topK
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]core.MemoryRecord, 0, n)
	for i := 0; i < n; i++ {
		sim := candidates[i].score
		out = append(out, core.RecordFromVector(candidates[i].vec.Clone(), s.name, &sim))
	}
	return out, nil
}

type scoredVector struct {
	vec   core.MemoryVector
	score float64
}

func (s *Store) DeleteVector(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vectors[id]; !ok || s.deleted[id] {
		return false, nil
	}
	s.journalLocked(id)
	s.deleted[id] = true
	return true, nil
}

func (s *Store) CollectionStats(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := 0
	for id := range s.vectors {
		if !s.deleted[id] {
			active++
		}
	}
	return map[string]any{"total": len(s.vectors), "active": active, "dimension": s.dim}, nil
}

// GetAllVectors enumerates every non-deleted stored vector, used by the
// transaction coordinator for snapshotting (VectorSnapshottable).
func (s *Store) GetAllVectors(_ context.Context) ([]core.MemoryVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.MemoryVector, 0, len(s.vectors))
	for id, v := range s.vectors {
		if s.deleted[id] {
			continue
		}
		out = append(out, v.Clone())
	}
	return out, nil
}

// --- native transaction support ------------------------------------------

// journalLocked records the pre-mutation value for id under every active
// transaction, called with s.mu held.
func (s *Store) journalLocked(id string) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	for _, journal := range s.txns {
		if _, already := journal[id]; already {
			continue
		}
		if v, ok := s.vectors[id]; ok && !s.deleted[id] {
			clone := v.Clone()
			journal[id] = &clone
		} else {
			journal[id] = nil
		}
	}
}

func (s *Store) BeginTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.txns[txID] = make(map[string]*core.MemoryVector)
	return nil
}

func (s *Store) PrepareCommit(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if _, ok := s.txns[txID]; !ok {
		return core.NewError("vectorstore.PrepareCommit", core.KindAdapter, core.CodeMemoryTransactionError, core.ErrTransactionFailed)
	}
	return nil
}

func (s *Store) CommitTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	delete(s.txns, txID)
	return nil
}

func (s *Store) RollbackTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	journal, ok := s.txns[txID]
	delete(s.txns, txID)
	s.txMu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pre := range journal {
		if pre == nil {
			delete(s.vectors, id)
			s.deleted[id] = true
			continue
		}
		s.vectors[id] = *pre
		delete(s.deleted, id)
	}
	return nil
}

func (s *Store) IsTransactionActive(txID string) bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	_, ok := s.txns[txID]
	return ok
}
