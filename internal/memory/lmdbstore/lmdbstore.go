// Package lmdbstore implements an embedded transactional MemoryStore
// adapter. It grounds spec §4.4's LMDB adapter on go.etcd.io/bbolt — no
// lmdb-go binding exists anywhere in the retrieved example corpus (see
// DESIGN.md), and bbolt offers the same embedded-engine-with-named-buckets
// shape as LMDB's named DBs.
package lmdbstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/devsynth/hybridmemory/internal/core"
)

var (
	itemsBucket    = []byte("items")
	metadataBucket = []byte("metadata_index")
)

// Store is the bbolt-backed MemoryStore adapter with native, ID-tracked
// transactions.
type Store struct {
	name string
	db   *bbolt.DB

	txMu sync.Mutex
	txns map[string]*bbolt.Tx
}

// Open opens (creating if absent) a bbolt database at path with the two
// named buckets items/metadata_index, mirroring LMDB's two named DBs.
func Open(name, path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, core.NewError("lmdbstore.Open", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(itemsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metadataBucket)
		return err
	})
	if err != nil {
		return nil, core.NewError("lmdbstore.Open", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return &Store{name: name, db: db, txns: make(map[string]*bbolt.Tx)}, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) Close() error { return s.db.Close() }

type encodedItem struct {
	ID         string         `json:"id"`
	Content    any            `json:"content"`
	MemoryType string         `json:"memory_type"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  string         `json:"created_at"`
}

func encode(item core.MemoryItem) ([]byte, error) {
	return json.Marshal(encodedItem{
		ID:         item.ID,
		Content:    item.Content,
		MemoryType: string(item.Type),
		Metadata:   core.ToSerializable(item.Metadata),
		CreatedAt:  item.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func decode(raw []byte) (core.MemoryItem, error) {
	var e encodedItem
	if err := json.Unmarshal(raw, &e); err != nil {
		return core.MemoryItem{}, err
	}
	created, _ := time.Parse(time.RFC3339Nano, e.CreatedAt)
	return core.MemoryItem{
		ID:        e.ID,
		Content:   e.Content,
		Type:      core.MemoryType(e.MemoryType),
		Metadata:  core.FromSerializable(e.Metadata),
		CreatedAt: created,
	}, nil
}

// Store writes item and adds its content:/memory_type:/metadata: index keys
// to the metadata_index bucket, per spec §4.4's LMDB row. Index keys written
// for an earlier version of the item are not removed.
func (s *Store) Store(_ context.Context, item core.MemoryItem) (string, error) {
	raw, err := encode(item)
	if err != nil {
		return "", core.NewError("lmdbstore.Store", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(itemsBucket)
		idx := tx.Bucket(metadataBucket)
		if err := items.Put([]byte(item.ID), raw); err != nil {
			return err
		}
		if content, ok := item.Content.(string); ok {
			idx.Put([]byte(fmt.Sprintf("content:%s", item.ID)), []byte(content))
		}
		idx.Put([]byte(fmt.Sprintf("memory_type:%s:%s", item.Type, item.ID)), []byte{1})
		for k, v := range item.Metadata {
			idx.Put([]byte(fmt.Sprintf("metadata:%s:%v:%s", k, v, item.ID)), []byte{1})
		}
		return nil
	})
	if err != nil {
		return "", core.NewError("lmdbstore.Store", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return item.ID, nil
}

func (s *Store) Retrieve(_ context.Context, id string) (*core.MemoryItem, error) {
	var item core.MemoryItem
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(itemsBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		var derr error
		item, derr = decode(raw)
		return derr
	})
	if err != nil {
		return nil, core.NewError("lmdbstore.Retrieve", core.KindAdapter, core.CodeMemoryCorruption, core.ErrCorruption)
	}
	if !found {
		return nil, core.NewError("lmdbstore.Retrieve", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	return &item, nil
}

func (s *Store) Search(_ context.Context, query core.Query) ([]core.MemoryRecord, error) {
	var out []core.MemoryRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(itemsBucket).ForEach(func(k, v []byte) error {
			item, err := decode(v)
			if err != nil {
				return nil
			}
			if !matches(item, query) {
				return nil
			}
			out = append(out, core.RecordFromItem(item, s.name))
			return nil
		})
	})
	if err != nil {
		return nil, core.NewError("lmdbstore.Search", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return out, nil
}

func matches(item core.MemoryItem, query core.Query) bool {
	if query.Text != "" {
		content, _ := item.Content.(string)
		if len(content) < len(query.Text) {
			return false
		}
		found := false
		for i := 0; i+len(query.Text) <= len(content); i++ {
			if content[i:i+len(query.Text)] == query.Text {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range query.Predicates {
		switch k {
		case "memory_type":
			if string(item.Type) != v {
				return false
			}
		case "content":
			// covered above when Text is used; when Predicates carries it instead:
			content, _ := item.Content.(string)
			sub, _ := v.(string)
			if sub != "" && !contains(content, sub) {
				return false
			}
		default:
			if len(k) > 9 && k[:9] == "metadata." {
				field := k[9:]
				got, ok := item.Metadata[field]
				if !ok || got != v {
					return false
				}
			} else {
				return false
			}
		}
	}
	return true
}

func contains(s, sub string) bool {
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

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(itemsBucket)
		if items.Get([]byte(id)) != nil {
			existed = true
		}
		return items.Delete([]byte(id))
	})
	if err != nil {
		return false, core.NewError("lmdbstore.Delete", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return existed, nil
}

func (s *Store) GetAll(_ context.Context) ([]core.MemoryItem, error) {
	var out []core.MemoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(itemsBucket).ForEach(func(k, v []byte) error {
			item, err := decode(v)
			if err != nil {
				return nil
			}
			out = append(out, item)
			return nil
		})
	})
	if err != nil {
		return nil, core.NewError("lmdbstore.GetAll", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return out, nil
}

// --- native transaction support, explicitly ID-tracked ---

func (s *Store) BeginTransaction(_ context.Context, txID string) error {
	tx, err := s.db.Begin(true)
	if err != nil {
		return core.NewError("lmdbstore.BeginTransaction", core.KindAdapter, core.CodeMemoryTransactionError, err)
	}
	s.txMu.Lock()
	s.txns[txID] = tx
	s.txMu.Unlock()
	return nil
}

func (s *Store) CommitTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	tx, ok := s.txns[txID]
	delete(s.txns, txID)
	s.txMu.Unlock()
	if !ok {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return core.NewError("lmdbstore.CommitTransaction", core.KindAdapter, core.CodeMemoryTransactionError, err)
	}
	return nil
}

func (s *Store) RollbackTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	tx, ok := s.txns[txID]
	delete(s.txns, txID)
	s.txMu.Unlock()
	if !ok {
		return nil
	}
	return tx.Rollback()
}

func (s *Store) IsTransactionActive(txID string) bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	_, ok := s.txns[txID]
	return ok
}
