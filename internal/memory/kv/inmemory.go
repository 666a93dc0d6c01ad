// Package kv implements the in-memory and Redis-backed MemoryStore
// adapters, built on the MemoryStore/MemoryItem contract rather than a raw
// string KV interface.
package kv

import (
	"context"
	"strings"
	"sync"

	"github.com/devsynth/hybridmemory/internal/core"
)

// InMemory is the dev/test-default MemoryStore adapter: a hash map with no
// transaction methods of its own; the transaction coordinator covers it by
// taking a snapshot copy through GetAll and restoring it on rollback.
type InMemory struct {
	name string
	mu   sync.RWMutex
	data map[string]core.MemoryItem

	txMu  sync.Mutex
	txns  map[string]map[string]*core.MemoryItem // txID -> id -> pre-tx value (nil = absent)
}

// New builds a named in-memory store.
func New(name string) *InMemory {
	return &InMemory{name: name, data: make(map[string]core.MemoryItem), txns: make(map[string]map[string]*core.MemoryItem)}
}

func (s *InMemory) Name() string { return s.name }

// Store is idempotent on ID: re-storing the same ID replaces the record.
func (s *InMemory) Store(_ context.Context, item core.MemoryItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[item.ID] = item.Clone()
	return item.ID, nil
}

func (s *InMemory) Retrieve(_ context.Context, id string) (*core.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.data[id]
	if !ok {
		return nil, core.NewError("kv.Retrieve", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	clone := item.Clone()
	return &clone, nil
}

// Search supports memory_type, content substring, and metadata.<field>
// exact-match predicates; unknown keys reduce to false (no matches).
func (s *InMemory) Search(_ context.Context, query core.Query) ([]core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.MemoryRecord
	for _, item := range s.data {
		if query.Text != "" {
			content, _ := item.Content.(string)
			if !strings.Contains(content, query.Text) {
				continue
			}
		}
		if !matchesPredicates(item, query.Predicates) {
			continue
		}
		out = append(out, core.RecordFromItem(item.Clone(), s.name))
	}
	return out, nil
}

func matchesPredicates(item core.MemoryItem, predicates map[string]any) bool {
	for k, v := range predicates {
		switch k {
		case "memory_type":
			if string(item.Type) != v {
				return false
			}
		case "content":
			content, _ := item.Content.(string)
			sub, _ := v.(string)
			if !strings.Contains(content, sub) {
				return false
			}
		default:
			if strings.HasPrefix(k, "metadata.") {
				field := strings.TrimPrefix(k, "metadata.")
				if item.Metadata == nil {
					return false
				}
				got, ok := item.Metadata[field]
				if !ok || got != v {
					return false
				}
			} else {
				// Unknown key: reduces to false per spec §4.4.
				return false
			}
		}
	}
	return true
}

func (s *InMemory) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return false, nil
	}
	delete(s.data, id)
	return true, nil
}

// GetAll enumerates every stored item, used by the coordinator for
// snapshotting non-transactional adapters.
func (s *InMemory) GetAll(_ context.Context) ([]core.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.MemoryItem, 0, len(s.data))
	for _, item := range s.data {
		out = append(out, item.Clone())
	}
	return out, nil
}
