// Package chromastore implements the networked vector-store adapter: a
// thin wrapper over a Qdrant collection, standing in for the distilled
// system's ChromaDB backend (the retrieved example pack carries
// github.com/qdrant/go-client rather than a Chroma client, and the two
// play the same role: a remote collection of embeddings with payload
// metadata and approximate nearest-neighbor search). See DESIGN.md.
package chromastore

import (
	"context"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/devsynth/hybridmemory/internal/core"
)

// Config describes how to reach and shape the backing collection.
type Config struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string
	Dimension      uint64
}

// Store is the VectorStore adapter backed by a remote Qdrant collection.
// It has no native multi-statement transaction support; BeginTransaction
// starts a scoped snapshot journal and RollbackTransaction replays it by
// deleting points that were added and re-upserting points that were
// overwritten or removed, mirroring the in-memory adapter's journal but
// driven over the network.
type Store struct {
	name       string
	client     *qdrant.Client
	collection string
	dim        uint64

	txMu sync.Mutex
	txns map[string]map[string]*core.MemoryVector // txID -> id -> pre-tx value (nil = absent)
}

// Open connects to the configured Qdrant instance and ensures the target
// collection exists with the configured vector dimension and cosine
// distance, matching spec §6.2's embedding convention.
func Open(ctx context.Context, name string, cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, core.NewError("chromastore.Open", core.KindAdapter, core.CodeMemoryStoreError, err)
	}

	s := &Store{
		name:       name,
		client:     client,
		collection: cfg.CollectionName,
		dim:        cfg.Dimension,
		txns:       make(map[string]map[string]*core.MemoryVector),
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return core.NewError("chromastore.ensureCollection", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return core.NewError("chromastore.ensureCollection", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return nil
}

func (s *Store) Name() string { return s.name }

// Close releases the underlying gRPC connection.
func (s *Store) Close() error { return s.client.Close() }

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func vectorPayload(v core.MemoryVector) map[string]any {
	payload := map[string]any{}
	if v.Content != nil {
		payload["content"] = v.Content
	}
	for k, val := range v.Metadata {
		payload["meta_"+k] = val
	}
	return payload
}

func vectorFromPoint(id string, embedding []float32, payload map[string]*qdrant.Value) core.MemoryVector {
	v := core.MemoryVector{ID: id, Embedding: toFloat64(embedding), Metadata: core.MemoryMetadata{}}
	for k, val := range payload {
		switch {
		case k == "content":
			v.Content = qdrantValueToAny(val)
		case len(k) > 5 && k[:5] == "meta_":
			v.Metadata[k[5:]] = qdrantValueToAny(val)
		}
	}
	return v
}

func qdrantValueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

func (s *Store) getPointLocked(ctx context.Context, id string) *core.MemoryVector {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithVectors:    qdrant.NewWithVectorsEnable(true),
		WithPayload:    qdrant.NewWithPayloadEnable(true),
	})
	if err != nil || len(points) == 0 {
		return nil
	}
	v := vectorFromPoint(id, points[0].GetVectors().GetVector().GetData(), points[0].GetPayload())
	return &v
}

// journal records the pre-mutation value for id under every active
// transaction, fetched from the collection before the mutating call.
func (s *Store) journal(ctx context.Context, id string) {
	s.txMu.Lock()
	active := len(s.txns) > 0
	s.txMu.Unlock()
	if !active {
		return
	}
	pre := s.getPointLocked(ctx, id)

	s.txMu.Lock()
	defer s.txMu.Unlock()
	for _, j := range s.txns {
		if _, already := j[id]; !already {
			j[id] = pre
		}
	}
}

func (s *Store) StoreVector(ctx context.Context, v core.MemoryVector) (string, error) {
	s.journal(ctx, v.ID)

	payload, err := qdrant.NewValueMap(vectorPayload(v))
	if err != nil {
		return "", core.NewError("chromastore.StoreVector", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	wait := true
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(v.ID),
			Vectors: qdrant.NewVectors(toFloat32(v.Embedding)...),
			Payload: payload,
		}},
		Wait: &wait,
	})
	if err != nil {
		return "", core.NewError("chromastore.StoreVector", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return v.ID, nil
}

func (s *Store) RetrieveVector(ctx context.Context, id string) (*core.MemoryRecord, error) {
	v := s.getPointLocked(ctx, id)
	if v == nil {
		return nil, core.NewError("chromastore.RetrieveVector", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	rec := core.RecordFromVector(*v, s.name, nil)
	return &rec, nil
}

func (s *Store) SimilaritySearch(ctx context.Context, embedding []float64, topK int) ([]core.MemoryRecord, error) {
	if topK <= 0 {
		topK = 1
	}
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(toFloat32(embedding)...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayloadEnable(true),
		WithVectors:    qdrant.NewWithVectorsEnable(true),
	})
	if err != nil {
		return nil, core.NewError("chromastore.SimilaritySearch", core.KindAdapter, core.CodeMemoryStoreError, err)
	}

	out := make([]core.MemoryRecord, 0, len(results))
	for _, r := range results {
		v := vectorFromPoint(r.GetId().GetUuid(), r.GetVectors().GetVector().GetData(), r.GetPayload())
		score := float64(r.GetScore())
		out = append(out, core.RecordFromVector(v, s.name, &score))
	}
	return out, nil
}

func (s *Store) DeleteVector(ctx context.Context, id string) (bool, error) {
	s.journal(ctx, id)
	pre := s.getPointLocked(ctx, id)
	if pre == nil {
		return false, nil
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorIDs([]*qdrant.PointId{qdrant.NewID(id)}),
		Wait:           &wait,
	})
	if err != nil {
		return false, core.NewError("chromastore.DeleteVector", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return true, nil
}

func (s *Store) CollectionStats(ctx context.Context) (map[string]any, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, core.NewError("chromastore.CollectionStats", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return map[string]any{
		"total":     info.GetPointsCount(),
		"dimension": s.dim,
	}, nil
}

// --- scoped snapshot transactions -------------------------------------------

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
		return core.NewError("chromastore.PrepareCommit", core.KindAdapter, core.CodeMemoryTransactionError, core.ErrTransactionFailed)
	}
	return nil
}

func (s *Store) CommitTransaction(_ context.Context, txID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	delete(s.txns, txID)
	return nil
}

// RollbackTransaction replays the journal: points absent before the
// transaction are deleted, points present before it are re-upserted to
// their pre-transaction state.
func (s *Store) RollbackTransaction(ctx context.Context, txID string) error {
	s.txMu.Lock()
	journal, ok := s.txns[txID]
	delete(s.txns, txID)
	s.txMu.Unlock()
	if !ok {
		return nil
	}

	var toDelete []*qdrant.PointId
	var toRestore []*qdrant.PointStruct
	for id, pre := range journal {
		if pre == nil {
			toDelete = append(toDelete, qdrant.NewID(id))
			continue
		}
		payload, err := qdrant.NewValueMap(vectorPayload(*pre))
		if err != nil {
			return core.NewError("chromastore.RollbackTransaction", core.KindAdapter, core.CodeMemoryTransactionError, err)
		}
		toRestore = append(toRestore, &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(toFloat32(pre.Embedding)...),
			Payload: payload,
		})
	}

	if len(toDelete) > 0 {
		wait := true
		if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points:         qdrant.NewPointsSelectorIDs(toDelete),
			Wait:           &wait,
		}); err != nil {
			return core.NewError("chromastore.RollbackTransaction", core.KindAdapter, core.CodeMemoryTransactionError, err)
		}
	}
	if len(toRestore) > 0 {
		wait := true
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         toRestore,
			Wait:           &wait,
		}); err != nil {
			return core.NewError("chromastore.RollbackTransaction", core.KindAdapter, core.CodeMemoryTransactionError, err)
		}
	}
	return nil
}

func (s *Store) IsTransactionActive(txID string) bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	_, ok := s.txns[txID]
	return ok
}
