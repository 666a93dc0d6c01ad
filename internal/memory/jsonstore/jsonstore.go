// Package jsonstore implements the JSON-file-backed MemoryStore adapter with
// optional symmetric encryption, version tracking, and a version-control
// backup of the prior file. Grounded on spec §4.4/§4.4.1/§6.1.
package jsonstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/devsynth/hybridmemory/internal/core"
)

// fileDocument mirrors the persisted JSON schema from spec §6.1.
type fileDocument struct {
	Version   string              `json:"version"`
	UpdatedAt string              `json:"updated_at"`
	Items     []persistedItem     `json:"items"`
}

type persistedItem struct {
	ID        string         `json:"id"`
	Content   any            `json:"content"`
	MemoryType string        `json:"memory_type"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
}

// HistoryEntry is one row returned by GetHistory.
type HistoryEntry struct {
	Version        int
	Timestamp      string
	ContentSummary string
	Metadata       map[string]any
}

// Store is the JSON-file MemoryStore adapter.
type Store struct {
	name          string
	path          string
	encryptionKey []byte // nil disables encryption
	versioning    bool

	mu       sync.RWMutex
	items    map[string]persistedItem
	versions map[string]persistedItem // "id_v<n>" -> item
	cache    map[string]core.MemoryItem

	txMu       sync.Mutex
	txSnapshot map[string]snapshot // txID -> snapshot
}

type snapshot struct {
	items    map[string]persistedItem
	versions map[string]persistedItem
}

// New builds a JSON store adapter persisting to path. An empty
// encryptionKey disables encryption.
func New(name, path string, encryptionKey []byte, versioning bool) (*Store, error) {
	s := &Store{
		name:          name,
		path:          path,
		encryptionKey: encryptionKey,
		versioning:    versioning,
		items:         make(map[string]persistedItem),
		versions:      make(map[string]persistedItem),
		cache:         make(map[string]core.MemoryItem),
		txSnapshot:    make(map[string]snapshot),
	}
	if path != "" {
		if err := s.load(); err != nil && !os.IsNotExist(err) {
			return nil, core.NewError("jsonstore.New", core.KindAdapter, core.CodeMemoryStoreError, err)
		}
	}
	return s, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if s.encryptionKey != nil {
		raw, err = decrypt(s.encryptionKey, raw)
		if err != nil {
			return core.NewError("jsonstore.load", core.KindAdapter, core.CodeMemoryCorruption, core.ErrCorruption)
		}
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return core.NewError("jsonstore.load", core.KindAdapter, core.CodeMemoryCorruption, core.ErrCorruption)
	}
	for _, it := range doc.Items {
		s.items[it.ID] = it
	}
	return nil
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	// Back up the prior file before overwriting (version-control backup).
	if _, err := os.Stat(s.path); err == nil {
		_ = os.Rename(s.path, s.path+".bak")
	}
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	doc := fileDocument{Version: "1.0", UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	for _, id := range ids {
		doc.Items = append(doc.Items, s.items[id])
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if s.encryptionKey != nil {
		raw, err = encrypt(s.encryptionKey, raw)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func toPersisted(item core.MemoryItem) persistedItem {
	return persistedItem{
		ID:         item.ID,
		Content:    item.Content,
		MemoryType: string(item.Type),
		Metadata:   core.ToSerializable(item.Metadata),
		CreatedAt:  item.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromPersisted(p persistedItem) core.MemoryItem {
	created, _ := time.Parse(time.RFC3339Nano, p.CreatedAt)
	return core.MemoryItem{
		ID:        p.ID,
		Content:   p.Content,
		Type:      core.MemoryType(p.MemoryType),
		Metadata:  core.FromSerializable(p.Metadata),
		CreatedAt: created,
	}
}

// Store writes item, applying version tracking per spec §4.4.1 when enabled:
// the current item (if any) is appended to a parallel versions collection
// keyed by id_v<n>, and metadata.version is incremented.
func (s *Store) Store(_ context.Context, item core.MemoryItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.versioning {
		if existing, ok := s.items[item.ID]; ok {
			n := 1
			if v, ok := existing.Metadata["version"].(float64); ok {
				n = int(v)
			} else if v, ok := existing.Metadata["version"].(int); ok {
				n = v
			}
			s.versions[fmt.Sprintf("%s_v%d", item.ID, n)] = existing
			if item.Metadata == nil {
				item.Metadata = core.MemoryMetadata{}
			}
			item.Metadata["version"] = n + 1
		} else if item.Metadata == nil {
			item.Metadata = core.MemoryMetadata{"version": 1}
		} else if _, ok := item.Metadata["version"]; !ok {
			item.Metadata["version"] = 1
		}
	}

	s.items[item.ID] = toPersisted(item)
	delete(s.cache, item.ID)
	if err := s.persist(); err != nil {
		return "", core.NewError("jsonstore.Store", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return item.ID, nil
}

// Retrieve consults the cache before the backing store, per §C.10.
func (s *Store) Retrieve(_ context.Context, id string) (*core.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[id]; ok {
		clone := cached.Clone()
		return &clone, nil
	}
	p, ok := s.items[id]
	if !ok {
		return nil, core.NewError("jsonstore.Retrieve", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	item := fromPersisted(p)
	s.cache[id] = item
	return &item, nil
}

// RetrieveVersion returns the current item when its version equals n;
// otherwise searches the versions collection.
func (s *Store) RetrieveVersion(_ context.Context, id string, n int) (*core.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.items[id]; ok {
		cur := 1
		if v, ok := p.Metadata["version"].(int); ok {
			cur = v
		} else if v, ok := p.Metadata["version"].(float64); ok {
			cur = int(v)
		}
		if cur == n {
			item := fromPersisted(p)
			return &item, nil
		}
	}
	if p, ok := s.versions[fmt.Sprintf("%s_v%d", id, n)]; ok {
		item := fromPersisted(p)
		return &item, nil
	}
	return nil, core.NewError("jsonstore.RetrieveVersion", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
}

// GetHistory returns a sorted, de-duplicated list of version entries.
func (s *Store) GetHistory(_ context.Context, id string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int]bool)
	var out []HistoryEntry
	add := func(n int, p persistedItem) {
		if seen[n] {
			return
		}
		seen[n] = true
		summary := fmt.Sprintf("%v", p.Content)
		if len(summary) > 80 {
			summary = summary[:80]
		}
		out = append(out, HistoryEntry{Version: n, Timestamp: p.CreatedAt, ContentSummary: summary, Metadata: p.Metadata})
	}
	for key, p := range s.versions {
		var n int
		fmt.Sscanf(key, id+"_v%d", &n)
		if n > 0 {
			add(n, p)
		}
	}
	if p, ok := s.items[id]; ok {
		n := 1
		if v, ok := p.Metadata["version"].(int); ok {
			n = v
		} else if v, ok := p.Metadata["version"].(float64); ok {
			n = int(v)
		}
		add(n, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) Search(_ context.Context, query core.Query) ([]core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MemoryRecord
	for _, p := range s.items {
		item := fromPersisted(p)
		if !matchItem(item, query) {
			continue
		}
		out = append(out, core.RecordFromItem(item, s.name))
	}
	return out, nil
}

func matchItem(item core.MemoryItem, query core.Query) bool {
	if query.Text != "" {
		content, _ := item.Content.(string)
		if !contains(content, query.Text) {
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
			content, _ := item.Content.(string)
			sub, _ := v.(string)
			if !contains(content, sub) {
				return false
			}
		default:
			if len(k) > len("metadata.") && k[:len("metadata.")] == "metadata." {
				field := k[len("metadata."):]
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

func contains(s, substr string) bool {
	if substr == "" {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false, nil
	}
	delete(s.items, id)
	delete(s.cache, id)
	if err := s.persist(); err != nil {
		return false, core.NewError("jsonstore.Delete", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return true, nil
}

func (s *Store) GetAll(_ context.Context) ([]core.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.MemoryItem, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, fromPersisted(p))
	}
	return out, nil
}

// --- transaction support: whole-map snapshot restored on rollback ---

func (s *Store) BeginTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	itemsCopy := make(map[string]persistedItem, len(s.items))
	for k, v := range s.items {
		itemsCopy[k] = v
	}
	versionsCopy := make(map[string]persistedItem, len(s.versions))
	for k, v := range s.versions {
		versionsCopy[k] = v
	}
	s.txSnapshot[txID] = snapshot{items: itemsCopy, versions: versionsCopy}
	return nil
}

func (s *Store) CommitTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	delete(s.txSnapshot, txID)
	return nil
}

func (s *Store) RollbackTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	snap, ok := s.txSnapshot[txID]
	delete(s.txSnapshot, txID)
	s.txMu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = snap.items
	s.versions = snap.versions
	s.cache = make(map[string]core.MemoryItem)
	return s.persist()
}

func (s *Store) IsTransactionActive(txID string) bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	_, ok := s.txSnapshot[txID]
	return ok
}

func (s *Store) Flush(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persist()
}

// --- symmetric encryption (AES-GCM); no pack-grounded symmetric-encryption
// library exists, so this stays on crypto/aes per the stdlib justification
// noted in DESIGN.md ---

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}

func normalizeKey(key []byte) []byte {
	out := make([]byte, 32)
	copy(out, key)
	return out
}
