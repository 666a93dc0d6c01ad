package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/devsynth/hybridmemory/internal/core"
)

// Redis is a network-facing MemoryStore variant over go-redis, storing full
// MemoryItem values (JSON-marshaled) keyed by namespace:id instead of raw
// string values.
type Redis struct {
	name      string
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedis connects to redisURL and namespaces keys under namespace.
func NewRedis(name, redisURL, namespace string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, core.NewError("redis.New", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.NewError("redis.New", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	if namespace == "" {
		namespace = "memory"
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Redis{name: name, client: client, namespace: namespace, ttl: ttl}, nil
}

func (r *Redis) Name() string { return r.name }

func (r *Redis) buildKey(id string) string {
	return fmt.Sprintf("%s:%s", r.namespace, id)
}

func (r *Redis) Store(ctx context.Context, item core.MemoryItem) (string, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return "", core.NewError("redis.Store", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	if err := r.client.Set(ctx, r.buildKey(item.ID), payload, r.ttl).Err(); err != nil {
		return "", core.NewError("redis.Store", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return item.ID, nil
}

func (r *Redis) Retrieve(ctx context.Context, id string) (*core.MemoryItem, error) {
	val, err := r.client.Get(ctx, r.buildKey(id)).Result()
	if err == redis.Nil {
		return nil, core.NewError("redis.Retrieve", core.KindAdapter, core.CodeMemoryItemNotFound, core.ErrItemNotFound)
	}
	if err != nil {
		return nil, core.NewError("redis.Retrieve", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	var item core.MemoryItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, core.NewError("redis.Retrieve", core.KindAdapter, core.CodeMemoryCorruption, core.ErrCorruption)
	}
	return &item, nil
}

func (r *Redis) Search(ctx context.Context, query core.Query) ([]core.MemoryRecord, error) {
	keys, err := r.client.Keys(ctx, r.buildKey("*")).Result()
	if err != nil {
		return nil, core.NewError("redis.Search", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	var out []core.MemoryRecord
	for _, key := range keys {
		id := strings.TrimPrefix(key, r.namespace+":")
		item, err := r.Retrieve(ctx, id)
		if err != nil {
			continue
		}
		if query.Text != "" {
			content, _ := item.Content.(string)
			if !strings.Contains(content, query.Text) {
				continue
			}
		}
		if !matchesPredicates(*item, query.Predicates) {
			continue
		}
		out = append(out, core.RecordFromItem(*item, r.name))
	}
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, r.buildKey(id)).Result()
	if err != nil {
		return false, core.NewError("redis.Delete", core.KindAdapter, core.CodeMemoryStoreError, err)
	}
	return n > 0, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
