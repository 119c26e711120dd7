package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"coinlens/internal/fetch"
)

const storeKeyPrefix = "coinlens:fetch:"

type redisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps fetch results in Redis so cache hits survive restarts
// and are shared between instances. Redis also expires entries on its
// own, but the TTL check at read time stays authoritative.
type RedisStore struct {
	rdb     redisCommands
	nowFunc func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, nowFunc: time.Now}
}

type storedEntry struct {
	Payload   json.RawMessage `json:"payload"`
	Provider  string          `json:"provider"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTLMillis int64           `json:"ttl_ms"`
}

func (s *RedisStore) Get(ctx context.Context, key string) (fetch.Entry, bool) {
	raw, err := s.rdb.Get(ctx, storeKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("redis cache read failed for %s: %v", key, err)
		}
		return fetch.Entry{}, false
	}

	var stored storedEntry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		log.Printf("redis cache entry for %s is corrupt: %v", key, err)
		return fetch.Entry{}, false
	}

	ttl := time.Duration(stored.TTLMillis) * time.Millisecond
	if s.nowFunc().Sub(stored.FetchedAt) >= ttl {
		return fetch.Entry{}, false
	}

	return fetch.Entry{
		Payload:   stored.Payload,
		Provider:  stored.Provider,
		FetchedAt: stored.FetchedAt,
		TTL:       ttl,
	}, true
}

func (s *RedisStore) Put(ctx context.Context, key string, entry fetch.Entry) {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		log.Printf("cannot serialize cache payload for %s: %v", key, err)
		return
	}
	data, err := json.Marshal(storedEntry{
		Payload:   payload,
		Provider:  entry.Provider,
		FetchedAt: entry.FetchedAt,
		TTLMillis: entry.TTL.Milliseconds(),
	})
	if err != nil {
		log.Printf("cannot serialize cache entry for %s: %v", key, err)
		return
	}
	if err := s.rdb.Set(ctx, storeKeyPrefix+key, data, entry.TTL).Err(); err != nil {
		log.Printf("redis cache write failed for %s: %v", key, err)
	}
}

func (s *RedisStore) Clear(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, storeKeyPrefix+"*", 200).Result()
		if err != nil {
			log.Printf("redis cache scan failed: %v", err)
			return
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				log.Printf("redis cache delete failed: %v", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
