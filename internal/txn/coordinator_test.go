package txn

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsynth/hybridmemory/internal/core"
	"github.com/devsynth/hybridmemory/internal/memory"
	"github.com/devsynth/hybridmemory/internal/memory/kv"
)

// nativeStore is a fake TransactionalStore-backed MemoryStore for exercising
// the native-transaction commit/rollback path.
type nativeStore struct {
	name string
	mu   sync.Mutex
	data map[string]core.MemoryItem

	txMu   sync.Mutex
	active map[string]map[string]core.MemoryItem // txID -> staged writes
	prepareErr error
	commitErr  error
}

func newNativeStore(name string) *nativeStore {
	return &nativeStore{name: name, data: make(map[string]core.MemoryItem), active: make(map[string]map[string]core.MemoryItem)}
}

func (s *nativeStore) Name() string { return s.name }

func (s *nativeStore) Store(_ context.Context, item core.MemoryItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[item.ID] = item
	return item.ID, nil
}
func (s *nativeStore) Retrieve(_ context.Context, id string) (*core.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[id]
	if !ok {
		return nil, core.NewError("nativeStore.Retrieve", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	return &it, nil
}
func (s *nativeStore) Search(context.Context, core.Query) ([]core.MemoryRecord, error) { return nil, nil }
func (s *nativeStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[id]
	delete(s.data, id)
	return ok, nil
}

func (s *nativeStore) BeginTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.active[txID] = map[string]core.MemoryItem{}
	return nil
}
func (s *nativeStore) PrepareCommit(_ context.Context, txID string) error { return s.prepareErr }
func (s *nativeStore) CommitTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	delete(s.active, txID)
	return s.commitErr
}
func (s *nativeStore) RollbackTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	delete(s.active, txID)
	return nil
}
func (s *nativeStore) IsTransactionActive(txID string) bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	_, ok := s.active[txID]
	return ok
}

func TestCommitNativeAdapter(t *testing.T) {
	ctx := context.Background()
	store := newNativeStore("native")
	coord := NewCoordinator(nil)

	tx, err := coord.Begin(ctx, []memory.Adapter{store})
	require.NoError(t, err)
	_, err = store.Store(ctx, core.MemoryItem{ID: "x", Content: "hello"})
	require.NoError(t, err)
	require.NoError(t, coord.Commit(ctx, tx))

	got, err := store.Retrieve(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
}

func TestRollbackSnapshotAdapter(t *testing.T) {
	ctx := context.Background()
	store := kv.New("memA")
	_, err := store.Store(ctx, core.MemoryItem{ID: "x", Content: "old"})
	require.NoError(t, err)

	coord := NewCoordinator(nil)
	tx, err := coord.Begin(ctx, []memory.Adapter{store})
	require.NoError(t, err)

	_, err = store.Store(ctx, core.MemoryItem{ID: "x", Content: "new"})
	require.NoError(t, err)

	require.NoError(t, coord.Rollback(ctx, tx))

	got, err := store.Retrieve(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "old", got.Content)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := kv.New("memB")
	_, err := store.Store(ctx, core.MemoryItem{ID: "x", Content: "old"})
	require.NoError(t, err)

	coord := NewCoordinator(nil)
	wantErr := core.NewError("boom", core.KindAdapter, core.CodeMemoryStoreError, core.ErrCorruption)
	err = coord.WithTransaction(ctx, []memory.Adapter{store}, func(tx *Transaction) error {
		_, serr := store.Store(ctx, core.MemoryItem{ID: "x", Content: "new"})
		require.NoError(t, serr)
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	got, err := store.Retrieve(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "old", got.Content)
}

func TestPrepareFailureTriggersRollback(t *testing.T) {
	ctx := context.Background()
	store := newNativeStore("native")
	store.prepareErr = assertErr{}
	coord := NewCoordinator(nil)

	tx, err := coord.Begin(ctx, []memory.Adapter{store})
	require.NoError(t, err)
	err = coord.Commit(ctx, tx)
	require.Error(t, err)
	assert.False(t, store.IsTransactionActive(tx.ID))
}

func TestPersistWithFanout(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry()
	primary := kv.New("tinydb")
	secondary := kv.New("graph")
	reg.Register("tinydb", primary)
	reg.Register("graph", secondary)

	coord := NewCoordinator(nil)
	item := core.MemoryItem{ID: "task-1", Content: "payload", Type: core.MemoryCollaborationTask}
	require.NoError(t, coord.PersistWithFanout(ctx, reg, item, []string{"tinydb", "graph", "kuzu"}))

	got, err := primary.Retrieve(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "payload", got.Content)

	got2, err := secondary.Retrieve(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "payload", got2.Content)
}

type assertErr struct{}

func (assertErr) Error() string { return "prepare failed" }
