// Package txn implements the cross-store transaction coordinator: two-phase
// commit with per-adapter snapshots for adapters lacking native
// transactions, an operation log, and a primary-store-preference fanout
// helper for collaboration entities. Grounded in full on
// application/memory/transaction_context.py.
package txn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devsynth/hybridmemory/internal/core"
	"github.com/devsynth/hybridmemory/internal/memory"
	"github.com/devsynth/hybridmemory/internal/resilience"
)

// Phase enumerates an operation-log entry's phase.
type Phase string

const (
	PhaseSnapshot Phase = "snapshot"
	PhaseCommit   Phase = "commit"
	PhaseRollback Phase = "rollback"
)

// LogEntry is one row of the per-transaction operation log, sufficient to
// reconstruct the intended state changes, per spec §4.6.
type LogEntry struct {
	Store   string
	Phase   Phase
	Records []core.MemoryItem
	Vectors []core.MemoryVector
	At      time.Time
}

type stateSnapshot struct {
	items   []core.MemoryItem
	vectors []core.MemoryVector
}

// Transaction tracks one cross-store transaction in progress.
type Transaction struct {
	ID        string
	adapters  []memory.Adapter
	native    map[string]bool
	snapshots map[string]stateSnapshot
	log       []LogEntry
	done      bool
}

// Log returns the transaction's operation log so far.
func (t *Transaction) Log() []LogEntry {
	out := make([]LogEntry, len(t.log))
	copy(out, t.log)
	return out
}

// Coordinator drives 2PC-with-snapshot-fallback transactions over an
// explicit list of adapters (spec §4.6: "A transaction begins with a list
// of adapters").
type Coordinator struct {
	Logger  core.Logger
	Metrics *resilience.Registry
}

// NewCoordinator builds a Coordinator, defaulting to a no-op logger and the
// global metrics registry.
func NewCoordinator(logger core.Logger) *Coordinator {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Coordinator{Logger: logger, Metrics: resilience.Global()}
}

func flushAdapter(ctx context.Context, a memory.Adapter) {
	if f, ok := a.(memory.Flushable); ok {
		_ = f.FlushUpdates(ctx)
		return
	}
	if f, ok := a.(memory.FlushablePendingWrites); ok {
		_ = f.FlushPendingWrites(ctx)
		return
	}
	if f, ok := a.(memory.FlushableQueue); ok {
		_ = f.FlushQueue(ctx)
		return
	}
	if f, ok := a.(memory.GenericFlusher); ok {
		_ = f.Flush(ctx)
	}
}

func enumerateItems(ctx context.Context, a memory.Adapter) []core.MemoryItem {
	if s, ok := a.(memory.Snapshottable); ok {
		items, _ := s.GetAll(ctx)
		return items
	}
	if s, ok := a.(memory.SnapshottableItems); ok {
		items, _ := s.GetAllItems(ctx)
		return items
	}
	return nil
}

func enumerateVectors(ctx context.Context, a memory.Adapter) []core.MemoryVector {
	if s, ok := a.(memory.VectorSnapshottable); ok {
		vectors, _ := s.GetAllVectors(ctx)
		return vectors
	}
	return nil
}

// Begin opens a transaction over adapters: native adapters get
// BeginTransaction(txID); every other adapter gets a full-state snapshot
// captured via the GetAll/GetAllItems/GetAllVectors probes.
func (c *Coordinator) Begin(ctx context.Context, adapters []memory.Adapter) (*Transaction, error) {
	txID := uuid.NewString()
	t := &Transaction{
		ID:        txID,
		adapters:  adapters,
		native:    make(map[string]bool),
		snapshots: make(map[string]stateSnapshot),
	}
	for _, a := range adapters {
		name := a.Name()
		if ts, ok := a.(memory.TransactionalStore); ok {
			if err := ts.BeginTransaction(ctx, txID); err != nil {
				return nil, core.NewError("txn.Begin", core.KindAdapter, core.CodeMemoryTransactionError, err)
			}
			t.native[name] = true
			continue
		}
		items := enumerateItems(ctx, a)
		vectors := enumerateVectors(ctx, a)
		t.snapshots[name] = stateSnapshot{items: items, vectors: vectors}
		t.log = append(t.log, LogEntry{Store: name, Phase: PhaseSnapshot, Records: items, Vectors: vectors, At: time.Now()})
	}
	return t, nil
}

// Commit runs the two-phase commit sequence: prepare (flush + PrepareCommit
// on every transactional adapter; any failure triggers a rollback), then
// commit (flush + CommitTransaction). Partial commit failures are logged
// and surfaced as a composite error but not automatically undone, per spec
// §4.6's explicit note that rolling back a partially committed multi-store
// write may worsen inconsistency (Open Question: left unreconciled, see
// DESIGN.md).
func (c *Coordinator) Commit(ctx context.Context, t *Transaction) error {
	if t.done {
		return nil
	}

	for _, a := range t.adapters {
		if !t.native[a.Name()] {
			continue
		}
		flushAdapter(ctx, a)
		if pc, ok := a.(memory.PrepareCommitter); ok {
			if err := pc.PrepareCommit(ctx, t.ID); err != nil {
				c.Logger.Error("prepare_commit failed, rolling back", map[string]any{"store": a.Name(), "tx": t.ID, "error": err.Error()})
				_ = c.Rollback(ctx, t)
				return core.NewError("txn.Commit.prepare", core.KindAdapter, core.CodeMemoryTransactionError, err)
			}
		}
	}

	var failed []string
	for _, a := range t.adapters {
		if !t.native[a.Name()] {
			continue
		}
		flushAdapter(ctx, a)
		ts, ok := a.(memory.TransactionalStore)
		if !ok {
			continue
		}
		if err := ts.CommitTransaction(ctx, t.ID); err != nil {
			c.Logger.Error("commit_transaction failed after prepare", map[string]any{"store": a.Name(), "tx": t.ID, "error": err.Error()})
			failed = append(failed, fmt.Sprintf("%s: %v", a.Name(), err))
			continue
		}
		items := enumerateItems(ctx, a)
		vectors := enumerateVectors(ctx, a)
		t.log = append(t.log, LogEntry{Store: a.Name(), Phase: PhaseCommit, Records: items, Vectors: vectors, At: time.Now()})
	}
	t.done = true

	if len(failed) > 0 {
		return core.NewErrorWithDetails("txn.Commit", core.KindAdapter, core.CodeMemoryTransactionError,
			core.ErrTransactionFailed, map[string]any{"partial_failures": strings.Join(failed, "; ")})
	}
	return nil
}

// Rollback restores every adapter's pre-transaction observable state:
// native adapters via RollbackTransaction(txID); snapshot-only adapters by
// deleting current state and re-storing the captured snapshot records.
func (c *Coordinator) Rollback(ctx context.Context, t *Transaction) error {
	if t.done {
		return nil
	}
	t.done = true
	var firstErr error

	for _, a := range t.adapters {
		name := a.Name()
		if t.native[name] {
			if ts, ok := a.(memory.TransactionalStore); ok {
				if err := ts.RollbackTransaction(ctx, t.ID); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			continue
		}

		snap := t.snapshots[name]
		if ms, ok := a.(memory.MemoryStore); ok {
			for _, cur := range enumerateItems(ctx, a) {
				_, _ = ms.Delete(ctx, cur.ID)
			}
			for _, it := range snap.items {
				_, _ = ms.Store(ctx, it)
			}
		}
		if vs, ok := a.(memory.VectorStore); ok {
			for _, cur := range enumerateVectors(ctx, a) {
				_, _ = vs.DeleteVector(ctx, cur.ID)
			}
			for _, v := range snap.vectors {
				_, _ = vs.StoreVector(ctx, v)
			}
		}
		t.log = append(t.log, LogEntry{Store: name, Phase: PhaseRollback, Records: snap.items, Vectors: snap.vectors, At: time.Now()})
	}
	return firstErr
}

// WithTransaction runs fn inside a transaction over adapters: on success it
// commits, on any error returned by fn (including a panic recovered and
// re-raised) it rolls back and propagates, mirroring spec §5's "a
// transaction may be aborted by raising any exception inside the scoped
// context; the coordinator catches it, performs rollback, re-raises."
func (c *Coordinator) WithTransaction(ctx context.Context, adapters []memory.Adapter, fn func(tx *Transaction) error) (err error) {
	tx, err := c.Begin(ctx, adapters)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = c.Rollback(ctx, tx)
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		_ = c.Rollback(ctx, tx)
		return err
	}
	return c.Commit(ctx, tx)
}

// ChoosePrimary selects the primary store by preference order, falling
// back to the first registered adapter, per spec §4.6. Exported so callers
// outside the package (e.g. the collaboration entity service) can apply the
// same primary-selection rule for operations that don't go through
// PersistWithFanout directly.
func ChoosePrimary(reg *memory.Registry, preference []string) (string, memory.Adapter, error) {
	return choosePrimary(reg, preference)
}

func choosePrimary(reg *memory.Registry, preference []string) (string, memory.Adapter, error) {
	for _, name := range preference {
		if a, ok := reg.Get(name); ok {
			return name, a, nil
		}
	}
	names := reg.Names()
	if len(names) == 0 {
		return "", nil, core.NewError("txn.choosePrimary", core.KindSystem, core.CodeAdapterUnavailable, core.ErrAdapterUnavailable)
	}
	a, _ := reg.Get(names[0])
	return names[0], a, nil
}

// PersistWithFanout persists a collaboration entity through the
// coordinator: it selects a primary store by preference order, stores
// there inside a transaction (retried per policy), then stores the same
// record, one after another, in every other registered MemoryStore for
// redundancy. Failures
// to secondary stores are logged but do not fail the call, per spec §4.6.
func (c *Coordinator) PersistWithFanout(ctx context.Context, reg *memory.Registry, item core.MemoryItem, preference []string) error {
	primaryName, primary, err := choosePrimary(reg, preference)
	if err != nil {
		return err
	}
	ms, ok := primary.(memory.MemoryStore)
	if !ok {
		return core.NewError("txn.PersistWithFanout", core.KindAdapter, core.CodeMemoryStoreError, core.ErrAdapterUnavailable)
	}

	policy := resilience.DefaultPolicy("txn.PersistWithFanout." + primaryName)
	policy.Metrics = c.Metrics
	_, err = resilience.Retry(ctx, policy, func() (struct{}, error) {
		txErr := c.WithTransaction(ctx, []memory.Adapter{primary}, func(tx *Transaction) error {
			_, storeErr := ms.Store(ctx, item)
			return storeErr
		})
		return struct{}{}, txErr
	})
	if err != nil {
		return err
	}

	for _, name := range reg.Names() {
		if name == primaryName {
			continue
		}
		adapter, _ := reg.Get(name)
		secondary, ok := adapter.(memory.MemoryStore)
		if !ok {
			continue
		}
		if _, serr := secondary.Store(ctx, item); serr != nil {
			c.Logger.Warn("redundant fanout store failed", map[string]any{"store": name, "id": item.ID, "error": serr.Error()})
		}
	}
	return nil
}
