// Package memory defines the adapter contract and registry shared by every
// store backend, replacing the Python original's structural capability
// probing with explicit capability interfaces (spec §9).
package memory

import (
	"context"

	"github.com/devsynth/hybridmemory/internal/core"
)

// MemoryStore is the document/KV-shaped adapter contract.
type MemoryStore interface {
	Store(ctx context.Context, item core.MemoryItem) (string, error)
	Retrieve(ctx context.Context, id string) (*core.MemoryItem, error)
	Search(ctx context.Context, query core.Query) ([]core.MemoryRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// VectorStore is the embedding-collection adapter contract.
type VectorStore interface {
	StoreVector(ctx context.Context, v core.MemoryVector) (string, error)
	RetrieveVector(ctx context.Context, id string) (*core.MemoryRecord, error)
	SimilaritySearch(ctx context.Context, embedding []float64, topK int) ([]core.MemoryRecord, error)
	DeleteVector(ctx context.Context, id string) (bool, error)
	CollectionStats(ctx context.Context) (map[string]any, error)
}

// TransactionalStore is implemented by adapters with native transaction
// support.
type TransactionalStore interface {
	BeginTransaction(ctx context.Context, txID string) error
	CommitTransaction(ctx context.Context, txID string) error
	RollbackTransaction(ctx context.Context, txID string) error
	IsTransactionActive(txID string) bool
}

// PrepareCommitter is an optional extension of TransactionalStore for the
// 2PC prepare phase.
type PrepareCommitter interface {
	PrepareCommit(ctx context.Context, txID string) error
}

// Flushable adapters expose a way to flush pending writes before a commit
// phase. The coordinator probes in the order
// FlushUpdates/FlushPendingWrites/FlushQueue/Flush, matching
// transaction_context.py's explicit probe order.
type Flushable interface {
	FlushUpdates(ctx context.Context) error
}

// FlushablePendingWrites is the second probe in the priority order.
type FlushablePendingWrites interface {
	FlushPendingWrites(ctx context.Context) error
}

// FlushableQueue is the third probe in the priority order.
type FlushableQueue interface {
	FlushQueue(ctx context.Context) error
}

// GenericFlusher is the fallback probe.
type GenericFlusher interface {
	Flush(ctx context.Context) error
}

// Snapshottable adapters can enumerate their full observable state for
// coordinator snapshots. GetAll is probed before GetAllItems, matching
// transaction_context.py.
type Snapshottable interface {
	GetAll(ctx context.Context) ([]core.MemoryItem, error)
}

// SnapshottableItems is the fallback probe.
type SnapshottableItems interface {
	GetAllItems(ctx context.Context) ([]core.MemoryItem, error)
}

// VectorSnapshottable is the vector-adapter analogue of Snapshottable,
// enumerating stored vectors for coordinator snapshot/rollback.
type VectorSnapshottable interface {
	GetAllVectors(ctx context.Context) ([]core.MemoryVector, error)
}

// Named adapters report a human-readable label for operation logs. Adapter
// also requires Name(), so every registered adapter has one; the coordinator
// uses Name() directly and has no type-name fallback.
type Named interface {
	Name() string
}

// Adapter is the minimal surface every registry entry must satisfy: at
// least a name, usually combined with one or more of the capability
// interfaces above via type assertion.
type Adapter interface {
	Name() string
}

// Registry is an ordered map from short store name to adapter instance.
// Order is insertion order, per spec §5 ("cross-adapter order is... the
// registry's insertion order").
type Registry struct {
	order []string
	byName map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Adapter)}
}

// Register adds (or replaces) an adapter under name, preserving its
// original position if already present.
func (r *Registry) Register(name string, adapter Adapter) {
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = adapter
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Names returns every registered name in insertion order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Adapters returns every adapter in insertion order.
func (r *Registry) Adapters() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len reports the number of registered adapters.
func (r *Registry) Len() int { return len(r.order) }
