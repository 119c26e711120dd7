package fetch

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"coinlens/internal/domain"
)

// CacheKey derives the canonical cache key for a request. Parameters are
// sorted so that equivalent requests collide regardless of map order.
func CacheKey(category domain.Category, params map[string]string) string {
	if len(params) == 0 {
		return string(category)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(category))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Entry is one cached fetch result. It is valid while
// now - FetchedAt < TTL; expired entries are treated as absent.
type Entry struct {
	Payload   any           `json:"payload"`
	Provider  string        `json:"provider"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// Store is the cache the orchestrator reads and writes. Implementations
// must be safe for concurrent use and must apply TTL at read time rather
// than relying on eviction sweeps.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Put(ctx context.Context, key string, entry Entry)
	Clear(ctx context.Context)
}

// MemoryStore is the default in-process Store with lazy TTL eviction.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if s.nowFunc().Sub(e.FetchedAt) >= e.TTL {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur.FetchedAt.Equal(e.FetchedAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

func (s *MemoryStore) Put(_ context.Context, key string, entry Entry) {
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
}

func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	s.entries = make(map[string]Entry)
	s.mu.Unlock()
}
