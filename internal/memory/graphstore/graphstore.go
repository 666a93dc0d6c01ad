// Package graphstore implements the RDF-flavored graph adapter: memory
// items and vectors materialized as triples under the devsynth: and
// memory: namespaces, Turtle file persistence, and the relationship
// utilities used for subgraph inspection (spec §4.4/§4.4.2/§6.1). No
// RDF library appears anywhere in the retrieved example pack, so the
// triple store and its Turtle (de)serialization are hand-rolled on the
// standard library; see DESIGN.md.
package graphstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devsynth/hybridmemory/internal/core"
)

const (
	nsDevsynth = "devsynth:"
	nsMemory   = "memory:"

	predType        = nsMemory + "type"
	predContent     = nsMemory + "content"
	predMemoryType  = nsMemory + "memoryType"
	predCreatedAt   = nsMemory + "createdAt"
	predHasMetadata = nsMemory + "hasMetadata"
	predEmbedding   = nsMemory + "embedding"

	typeMemoryItem   = nsMemory + "MemoryItem"
	typeMemoryVector = nsMemory + "MemoryVector"
)

// Triple is one subject/predicate/object statement.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
}

// Relationship is a user-defined edge between two memory-item subjects,
// distinct from the structural triples used to materialize an item itself.
type Relationship struct {
	Source string
	Target string
	Name   string
}

// Store is the graph adapter: an in-memory triple store with optional
// Turtle-file persistence. Its transaction methods are no-ops that always
// succeed, per spec §7's explicit note about the graph adapter's
// transaction semantics.
type Store struct {
	name string
	path string

	mu            sync.RWMutex
	triples       []Triple
	relationships []Relationship
	blankSeq      int
}

// New builds a graph store, optionally backed by a Turtle file at path
// (empty disables persistence).
func New(name, path string) (*Store, error) {
	s := &Store{name: name, path: path}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := s.load(); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *Store) Name() string { return s.name }

func subjectURI(id string) string { return nsMemory + "item/" + id }

// --- MemoryStore ----------------------------------------------------------

func (s *Store) Store(_ context.Context, item core.MemoryItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeSubjectLocked(subjectURI(item.ID))

	subj := subjectURI(item.ID)
	content, _ := json.Marshal(item.Content)
	metaNode := s.nextBlankNodeLocked()

	s.triples = append(s.triples,
		Triple{subj, predType, typeMemoryItem},
		Triple{subj, predContent, string(content)},
		Triple{subj, predMemoryType, string(item.Type)},
		Triple{subj, predCreatedAt, item.CreatedAt.UTC().Format(time.RFC3339Nano)},
		Triple{subj, predHasMetadata, metaNode},
	)
	for k, v := range item.Metadata {
		raw, _ := json.Marshal(v)
		s.triples = append(s.triples, Triple{metaNode, nsMemory + k, string(raw)})
	}
	if err := s.persistLocked(); err != nil {
		return "", err
	}
	return item.ID, nil
}

func (s *Store) Retrieve(_ context.Context, id string) (*core.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.itemFromTriplesLocked(id)
	if !ok {
		return nil, core.NewError("graphstore.Retrieve", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	return &item, nil
}

func (s *Store) itemFromTriplesLocked(id string) (core.MemoryItem, bool) {
	subj := subjectURI(id)
	item := core.MemoryItem{ID: id, Metadata: core.MemoryMetadata{}}
	found := false
	var metaNode string
	for _, t := range s.triples {
		if t.Subject != subj {
			continue
		}
		found = true
		switch t.Predicate {
		case predContent:
			var v any
			_ = json.Unmarshal([]byte(t.Object), &v)
			item.Content = v
		case predMemoryType:
			item.Type = core.MemoryType(t.Object)
		case predCreatedAt:
			ts, err := time.Parse(time.RFC3339Nano, t.Object)
			if err == nil {
				item.CreatedAt = ts
			}
		case predHasMetadata:
			metaNode = t.Object
		}
	}
	if !found {
		return item, false
	}
	if metaNode != "" {
		for _, t := range s.triples {
			if t.Subject != metaNode || !strings.HasPrefix(t.Predicate, nsMemory) {
				continue
			}
			key := strings.TrimPrefix(t.Predicate, nsMemory)
			var v any
			_ = json.Unmarshal([]byte(t.Object), &v)
			item.Metadata[key] = v
		}
	}
	return item, true
}

func (s *Store) Search(_ context.Context, query core.Query) ([]core.MemoryRecord, error) {
	s.mu.RLock()
	ids := s.allItemIDsLocked()
	s.mu.RUnlock()

	var out []core.MemoryRecord
	for _, id := range ids {
		s.mu.RLock()
		item, ok := s.itemFromTriplesLocked(id)
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if query.Text != "" {
			content, _ := item.Content.(string)
			if !strings.Contains(content, query.Text) {
				continue
			}
		}
		if !matchesPredicates(item, query.Predicates) {
			continue
		}
		out = append(out, core.RecordFromItem(item, s.name))
	}
	return out, nil
}

func matchesPredicates(item core.MemoryItem, predicates map[string]any) bool {
	for k, v := range predicates {
		switch {
		case k == "memory_type":
			if string(item.Type) != v {
				return false
			}
		case k == "content":
			content, _ := item.Content.(string)
			sub, _ := v.(string)
			if !strings.Contains(content, sub) {
				return false
			}
		case strings.HasPrefix(k, "metadata."):
			field := strings.TrimPrefix(k, "metadata.")
			got, ok := item.Metadata[field]
			if !ok || got != v {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (s *Store) allItemIDsLocked() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, t := range s.triples {
		if t.Predicate == predType && t.Object == typeMemoryItem && strings.HasPrefix(t.Subject, nsMemory+"item/") {
			id := strings.TrimPrefix(t.Subject, nsMemory+"item/")
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subj := subjectURI(id)
	existed := s.removeSubjectLocked(subj)
	if existed {
		s.removeRelationshipsForLocked(id)
		if err := s.persistLocked(); err != nil {
			return false, err
		}
	}
	return existed, nil
}

func (s *Store) removeSubjectLocked(subj string) bool {
	var metaNode string
	existed := false
	kept := s.triples[:0]
	for _, t := range s.triples {
		if t.Subject == subj {
			existed = true
			if t.Predicate == predHasMetadata {
				metaNode = t.Object
			}
			continue
		}
		kept = append(kept, t)
	}
	s.triples = kept
	if metaNode != "" {
		kept2 := s.triples[:0]
		for _, t := range s.triples {
			if t.Subject == metaNode {
				continue
			}
			kept2 = append(kept2, t)
		}
		s.triples = kept2
	}
	return existed
}

// GetAll enumerates every stored item, used by the coordinator for
// snapshotting (Snapshottable).
func (s *Store) GetAll(_ context.Context) ([]core.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MemoryItem
	for _, id := range s.allItemIDsLocked() {
		if item, ok := s.itemFromTriplesLocked(id); ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// --- no-op transactions ----------------------------------------------------

func (s *Store) BeginTransaction(context.Context, string) error        { return nil }
func (s *Store) CommitTransaction(context.Context, string) error       { return nil }
func (s *Store) RollbackTransaction(context.Context, string) error     { return nil }
func (s *Store) IsTransactionActive(string) bool                       { return false }
func (s *Store) PrepareCommit(context.Context, string) error           { return nil }

// --- relationship utilities (§4.4.2) ---------------------------------------

func (s *Store) CreateRelationship(_ context.Context, source, target, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships = append(s.relationships, Relationship{Source: source, Target: target, Name: name})
	return s.persistLocked()
}

func (s *Store) DeleteRelationship(_ context.Context, source, target, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.relationships[:0]
	removed := false
	for _, r := range s.relationships {
		if r.Source == source && r.Target == target && r.Name == name {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	s.relationships = kept
	if removed {
		if err := s.persistLocked(); err != nil {
			return false, err
		}
	}
	return removed, nil
}

func (s *Store) removeRelationshipsForLocked(id string) {
	kept := s.relationships[:0]
	for _, r := range s.relationships {
		if r.Source == id || r.Target == id {
			continue
		}
		kept = append(kept, r)
	}
	s.relationships = kept
}

// FindRelatedItems returns the IDs of every item related to id, in either
// direction.
func (s *Store) FindRelatedItems(_ context.Context, id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.relationships {
		if r.Source == id && !seen[r.Target] {
			seen[r.Target] = true
			out = append(out, r.Target)
		}
		if r.Target == id && !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	sort.Strings(out)
	return out
}

// FindItemsByRelationship returns every (source, target) pair carrying the
// named relationship.
func (s *Store) FindItemsByRelationship(_ context.Context, name string) []Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Relationship
	for _, r := range s.relationships {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// ItemRelationship describes one edge touching an item, from that item's
// point of view.
type ItemRelationship struct {
	Relationship string
	Direction    string // "outgoing" or "incoming"
	RelatedID    string
}

// GetItemRelationships returns every relationship touching id.
func (s *Store) GetItemRelationships(_ context.Context, id string) []ItemRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ItemRelationship
	for _, r := range s.relationships {
		if r.Source == id {
			out = append(out, ItemRelationship{Relationship: r.Name, Direction: "outgoing", RelatedID: r.Target})
		}
		if r.Target == id {
			out = append(out, ItemRelationship{Relationship: r.Name, Direction: "incoming", RelatedID: r.Source})
		}
	}
	return out
}

// Subgraph is the node/edge bundle returned by GetSubgraph.
type Subgraph struct {
	Nodes []string
	Edges []Relationship
}

// GetSubgraph performs a breadth-first expansion from centerID out to depth
// hops, returning every node visited and every edge between visited nodes.
func (s *Store) GetSubgraph(_ context.Context, centerID string, depth int) Subgraph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{centerID: true}
	frontier := []string{centerID}
	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			for _, r := range s.relationships {
				if r.Source == id && !visited[r.Target] {
					visited[r.Target] = true
					next = append(next, r.Target)
				}
				if r.Target == id && !visited[r.Source] {
					visited[r.Source] = true
					next = append(next, r.Source)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	var edges []Relationship
	for _, r := range s.relationships {
		if visited[r.Source] && visited[r.Target] {
			edges = append(edges, r)
		}
	}
	nodes := make([]string, 0, len(visited))
	for id := range visited {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return Subgraph{Nodes: nodes, Edges: edges}
}

// wherePattern matches a single "?var predicate object" SPARQL-lite clause,
// the minimal subset needed for query_graph_pattern, per spec §4.4.2.
var wherePattern = regexp.MustCompile(`^\s*\?(\w+)\s+(\S+)\s+(.+?)\s*\.?\s*$`)

// QueryGraphPattern evaluates a single SPARQL-style WHERE clause of the
// form "?id <predicate> <object>" against the triple store, returning one
// row per matching subject.
func (s *Store) QueryGraphPattern(_ context.Context, whereClause string) ([]map[string]string, error) {
	m := wherePattern.FindStringSubmatch(whereClause)
	if m == nil {
		return nil, core.NewError("graphstore.QueryGraphPattern", core.KindUserInput, core.CodeValidationError, core.ErrValidation)
	}
	variable, predicate, object := m[1], m[2], strings.Trim(m[3], `"`)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []map[string]string
	for _, t := range s.triples {
		if t.Predicate == predicate && t.Object == object {
			rows = append(rows, map[string]string{variable: t.Subject})
		}
	}
	return rows, nil
}

func (s *Store) nextBlankNodeLocked() string {
	s.blankSeq++
	return fmt.Sprintf("_:b%d", s.blankSeq)
}

// --- Turtle persistence -----------------------------------------------------

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return core.NewError("graphstore.persist", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "@prefix devsynth: <%s> .\n@prefix memory: <%s> .\n\n", nsDevsynth, nsMemory)
	for _, t := range s.triples {
		fmt.Fprintf(w, "<%s> <%s> %s .\n", t.Subject, t.Predicate, turtleObject(t.Object))
	}
	for _, r := range s.relationships {
		fmt.Fprintf(w, "<%s> <%s%s> <%s> .\n", subjectURI(r.Source), nsDevsynth, r.Name, subjectURI(r.Target))
	}
	return w.Flush()
}

func turtleObject(raw string) string {
	if strings.HasPrefix(raw, "_:") || strings.HasPrefix(raw, nsMemory) || strings.HasPrefix(raw, nsDevsynth) {
		return "<" + raw + ">"
	}
	escaped := strings.ReplaceAll(raw, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	return `"` + escaped + `"`
}

var tripleLine = regexp.MustCompile(`^<([^>]*)>\s+<([^>]*)>\s+(.+)\s\.$`)

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return core.NewError("graphstore.load", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "@prefix") {
			continue
		}
		m := tripleLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		subj, pred, objRaw := m[1], m[2], strings.TrimSpace(m[3])
		if strings.HasPrefix(objRaw, "<") && strings.HasSuffix(objRaw, ">") {
			obj := strings.TrimSuffix(strings.TrimPrefix(objRaw, "<"), ">")
			if strings.HasPrefix(pred, nsDevsynth) {
				name := strings.TrimPrefix(pred, nsDevsynth)
				s.relationships = append(s.relationships, Relationship{Source: tripleID(subj), Target: tripleID(obj), Name: name})
				continue
			}
			s.triples = append(s.triples, Triple{Subject: subj, Predicate: pred, Object: obj})
			continue
		}
		objRaw = strings.TrimPrefix(objRaw, `"`)
		objRaw = strings.TrimSuffix(objRaw, `"`)
		objRaw = strings.ReplaceAll(objRaw, `\"`, `"`)
		s.triples = append(s.triples, Triple{Subject: subj, Predicate: pred, Object: objRaw})
	}
	return scanner.Err()
}

func tripleID(subjectURIValue string) string {
	return strings.TrimPrefix(subjectURIValue, nsMemory+"item/")
}

// embedSidecar is kept for symmetry with spec §6.1's "embeddings serialize
// as JSON strings under memory:embedding"; vectors are stored the same way
// items are, via Store/StoreVector using predEmbedding for the raw array.
func embedSidecar(embedding []float64) string {
	raw, _ := json.Marshal(embedding)
	return string(raw)
}

// --- VectorStore (vectors materialized as triples, per spec §6.1) ---------

func (s *Store) StoreVector(_ context.Context, v core.MemoryVector) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subj := subjectURI(v.ID)
	s.removeSubjectLocked(subj)

	content, _ := json.Marshal(v.Content)
	metaNode := s.nextBlankNodeLocked()
	s.triples = append(s.triples,
		Triple{subj, predType, typeMemoryVector},
		Triple{subj, predContent, string(content)},
		Triple{subj, predEmbedding, embedSidecar(v.Embedding)},
		Triple{subj, predCreatedAt, v.CreatedAt.UTC().Format(time.RFC3339Nano)},
		Triple{subj, predHasMetadata, metaNode},
	)
	for k, val := range v.Metadata {
		raw, _ := json.Marshal(val)
		s.triples = append(s.triples, Triple{metaNode, nsMemory + k, string(raw)})
	}
	if err := s.persistLocked(); err != nil {
		return "", err
	}
	return v.ID, nil
}

func (s *Store) RetrieveVector(_ context.Context, id string) (*core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.vectorFromTriplesLocked(id)
	if !ok {
		return nil, core.NewError("graphstore.RetrieveVector", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	rec := core.RecordFromVector(vec, s.name, nil)
	return &rec, nil
}

func (s *Store) vectorFromTriplesLocked(id string) (core.MemoryVector, bool) {
	subj := subjectURI(id)
	vec := core.MemoryVector{ID: id, Metadata: core.MemoryMetadata{}}
	found := false
	var metaNode string
	for _, t := range s.triples {
		if t.Subject != subj {
			continue
		}
		found = true
		switch t.Predicate {
		case predContent:
			var v any
			_ = json.Unmarshal([]byte(t.Object), &v)
			vec.Content = v
		case predEmbedding:
			var emb []float64
			_ = json.Unmarshal([]byte(t.Object), &emb)
			vec.Embedding = emb
		case predCreatedAt:
			ts, err := time.Parse(time.RFC3339Nano, t.Object)
			if err == nil {
				vec.CreatedAt = ts
			}
		case predHasMetadata:
			metaNode = t.Object
		}
	}
	if !found {
		return vec, false
	}
	if metaNode != "" {
		for _, t := range s.triples {
			if t.Subject != metaNode {
				continue
			}
			key := strings.TrimPrefix(t.Predicate, nsMemory)
			var v any
			_ = json.Unmarshal([]byte(t.Object), &v)
			vec.Metadata[key] = v
		}
	}
	return vec, true
}

func (s *Store) SimilaritySearch(_ context.Context, embedding []float64, topK int) ([]core.MemoryRecord, error) {
	s.mu.RLock()
	var candidates []core.MemoryVector
	for _, t := range s.triples {
		if t.Predicate == predType && t.Object == typeMemoryVector {
			id := tripleID(t.Subject)
			if v, ok := s.vectorFromTriplesLocked(id); ok {
				candidates = append(candidates, v)
			}
		}
	}
	s.mu.RUnlock()

	type scored struct {
		vec   core.MemoryVector
		score float64
	}
	scoredVecs := make([]scored, 0, len(candidates))
	for _, v := range candidates {
		scoredVecs = append(scoredVecs, scored{vec: v, score: core.Cosine(embedding, v.Embedding)})
	}
	sort.Slice(scoredVecs, func(i, j int) bool { return scoredVecs[i].score > scoredVecs[j].score })
	if topK <= 0 {
		topK = 1
	}
	if topK > len(scoredVecs) {
		topK = len(scoredVecs)
	}
	out := make([]core.MemoryRecord, 0, topK)
	for i := 0; i < topK; i++ {
		sim := scoredVecs[i].score
		out = append(out, core.RecordFromVector(scoredVecs[i].vec, s.name, &sim))
	}
	return out, nil
}

func (s *Store) DeleteVector(ctx context.Context, id string) (bool, error) {
	return s.Delete(ctx, id)
}

func (s *Store) CollectionStats(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, t := range s.triples {
		if t.Predicate == predType && t.Object == typeMemoryVector {
			total++
		}
	}
	return map[string]any{"total": total}, nil
}
