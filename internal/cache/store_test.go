package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"coinlens/internal/fetch"
)

type fakeRedis struct {
	values map[string]string
	sets   int
	dels   []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.values[key] = string(value.([]byte))
	f.sets++
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.values, k)
		f.dels = append(f.dels, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	store := &RedisStore{rdb: fake, nowFunc: time.Now}
	ctx := context.Background()

	store.Put(ctx, "market.quote|symbol=BTC", fetch.Entry{
		Payload:   map[string]any{"symbol": "BTC", "price_usd": 101250.5},
		Provider:  "coingecko",
		FetchedAt: time.Now().UTC(),
		TTL:       30 * time.Second,
	})
	if fake.sets != 1 {
		t.Fatalf("expected one redis write, got %d", fake.sets)
	}

	entry, ok := store.Get(ctx, "market.quote|symbol=BTC")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if entry.Provider != "coingecko" || entry.TTL != 30*time.Second {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	raw, isRaw := entry.Payload.(json.RawMessage)
	if !isRaw {
		t.Fatalf("payload should come back as raw JSON, got %T", entry.Payload)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("payload should decode: %v", err)
	}
	if decoded["symbol"] != "BTC" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

func TestRedisStoreExpiryAtRead(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	now := time.Now().UTC()
	store := &RedisStore{rdb: fake, nowFunc: func() time.Time { return now }}
	ctx := context.Background()

	store.Put(ctx, "news.latest", fetch.Entry{
		Payload:   []string{"headline"},
		Provider:  "rss",
		FetchedAt: now,
		TTL:       time.Minute,
	})

	if _, ok := store.Get(ctx, "news.latest"); !ok {
		t.Fatal("fresh entry should hit")
	}

	now = now.Add(time.Minute)
	if _, ok := store.Get(ctx, "news.latest"); ok {
		t.Fatal("entry at exactly its TTL should miss")
	}
}

func TestRedisStoreMissAndCorrupt(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	store := &RedisStore{rdb: fake, nowFunc: time.Now}
	ctx := context.Background()

	if _, ok := store.Get(ctx, "absent"); ok {
		t.Fatal("absent key should miss")
	}

	fake.values[storeKeyPrefix+"bad"] = "{not json"
	if _, ok := store.Get(ctx, "bad"); ok {
		t.Fatal("corrupt entries should be treated as misses")
	}
}

func TestRedisStoreClear(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	store := &RedisStore{rdb: fake, nowFunc: time.Now}
	ctx := context.Background()

	store.Put(ctx, "a", fetch.Entry{Payload: 1, FetchedAt: time.Now(), TTL: time.Minute})
	store.Put(ctx, "b", fetch.Entry{Payload: 2, FetchedAt: time.Now(), TTL: time.Minute})

	store.Clear(ctx)
	if len(fake.values) != 0 {
		t.Fatalf("expected all keys deleted, %d remain", len(fake.values))
	}
}
