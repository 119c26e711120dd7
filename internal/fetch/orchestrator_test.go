package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coinlens/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

type stubProvider struct {
	calls int64
	fn    func(ctx context.Context, params map[string]string) (any, error)
}

func (s *stubProvider) caller() Caller {
	return func(ctx context.Context, params map[string]string) (any, error) {
		atomic.AddInt64(&s.calls, 1)
		if s.fn != nil {
			return s.fn(ctx, params)
		}
		return domain.Quote{Symbol: "BTC", PriceUSD: 100, LastUpdatedUnix: 1}, nil
	}
}

func (s *stubProvider) callCount() int64 {
	return atomic.LoadInt64(&s.calls)
}

func register(t *testing.T, r *Registry, name string, tier int, ttl time.Duration, stub *stubProvider) {
	t.Helper()
	err := r.Register(Descriptor{
		Name:    name,
		Tier:    tier,
		Timeout: time.Second,
		Categories: map[domain.Category]CategoryConfig{
			domain.CategoryQuote: {TTL: ttl},
		},
	}, map[domain.Category]Caller{
		domain.CategoryQuote: stub.caller(),
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func newOrchestrator(r *Registry) (*Orchestrator, *HealthTracker) {
	health := NewHealthTracker(DefaultBackoffPolicy)
	return NewOrchestrator(testTracer(), r, health, NewMemoryStore()), health
}

func TestFetchUnsupportedCategory(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	register(t, r, "alpha", 1, time.Minute, &stubProvider{})
	o, _ := newOrchestrator(r)

	_, err := o.Fetch(context.Background(), domain.CategoryNews, nil)
	if !errors.Is(err, ErrUnsupportedCategory) {
		t.Fatalf("expected ErrUnsupportedCategory, got %v", err)
	}
}

func TestFetchCacheFastPath(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{}
	r := NewRegistry()
	register(t, r, "alpha", 1, time.Minute, stub)
	o, _ := newOrchestrator(r)

	params := map[string]string{"symbol": "BTC"}

	first, err := o.Fetch(context.Background(), domain.CategoryQuote, params)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.Meta.Cached {
		t.Fatal("first fetch should not be cached")
	}

	for i := 0; i < 5; i++ {
		env, err := o.Fetch(context.Background(), domain.CategoryQuote, params)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if !env.Meta.Cached {
			t.Fatalf("fetch %d should be served from cache", i)
		}
		if env.Meta.Source != "alpha" {
			t.Fatalf("fetch %d source: got %s", i, env.Meta.Source)
		}
	}

	if n := stub.callCount(); n != 1 {
		t.Fatalf("expected exactly 1 upstream invocation, got %d", n)
	}
}

func TestFetchCacheKeyParamOrderIndependent(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{}
	r := NewRegistry()
	register(t, r, "alpha", 1, time.Minute, stub)
	o, _ := newOrchestrator(r)

	if _, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC", "fiat": "usd"}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	env, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"fiat": "usd", "symbol": "BTC"})
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !env.Meta.Cached {
		t.Fatal("equivalent params should collide on the same cache key")
	}
	if n := stub.callCount(); n != 1 {
		t.Fatalf("expected 1 upstream invocation, got %d", n)
	}
}

func TestFetchSingleflight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	stub := &stubProvider{
		fn: func(ctx context.Context, params map[string]string) (any, error) {
			<-release
			return domain.Quote{Symbol: "BTC", PriceUSD: 100, LastUpdatedUnix: 1}, nil
		},
	}
	r := NewRegistry()
	register(t, r, "alpha", 1, time.Minute, stub)
	o, _ := newOrchestrator(r)

	const k = 8
	var wg sync.WaitGroup
	results := make([]Envelope, k)
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"})
		}(i)
	}

	// Let every caller reach the singleflight barrier before the
	// upstream responds.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < k; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !results[i].Success || results[i].Meta.Source != "alpha" {
			t.Fatalf("caller %d got unexpected envelope: %+v", i, results[i])
		}
	}
	if n := stub.callCount(); n != 1 {
		t.Fatalf("expected exactly 1 upstream invocation for %d concurrent callers, got %d", k, n)
	}
}

func TestFetchRoundRobinFairness(t *testing.T) {
	t.Parallel()

	stubs := map[string]*stubProvider{}
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		stub := &stubProvider{}
		stubs[name] = stub
		register(t, r, name, 1, time.Minute, stub)
	}
	o, _ := newOrchestrator(r)

	var sources []string
	for i := 0; i < 9; i++ {
		// Distinct symbols so every call misses the cache.
		env, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": fmt.Sprintf("S%d", i)})
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		sources = append(sources, env.Meta.Source)
	}

	for name, stub := range stubs {
		if n := stub.callCount(); n != 3 {
			t.Fatalf("provider %s: expected 3 selections over 9 calls, got %d", name, n)
		}
	}
	// Rotating order: the cycle of 3 repeats.
	for i := 3; i < 9; i++ {
		if sources[i] != sources[i-3] {
			t.Fatalf("expected rotating order, got %v", sources)
		}
	}
}

func TestFetchHonestExhaustion(t *testing.T) {
	t.Parallel()

	fail := func(ctx context.Context, params map[string]string) (any, error) {
		return nil, fmt.Errorf("boom")
	}
	r := NewRegistry()
	register(t, r, "a", 1, time.Minute, &stubProvider{fn: fail})
	register(t, r, "b", 2, time.Minute, &stubProvider{fn: fail})
	register(t, r, "c", 2, time.Minute, &stubProvider{fn: fail})
	o, _ := newOrchestrator(r)

	env, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if env.Success {
		t.Fatal("exhausted fetch must not report success")
	}
	if env.Data != nil {
		t.Fatal("exhausted fetch must not fabricate data")
	}
	if len(env.Meta.Attempted) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(env.Meta.Attempted))
	}
	if env.Meta.Attempted[0].Provider != "a" {
		t.Fatalf("tier 1 provider should be attempted first, got %s", env.Meta.Attempted[0].Provider)
	}

	// Exhaustion is never cached: a follow-up hits providers again.
	o.ResetProvider("a")
	o.ResetProvider("b")
	o.ResetProvider("c")
	env2, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"})
	if err == nil || env2.Meta.Cached {
		t.Fatal("failure envelopes must not be cached")
	}
}

func TestFetchFallbackScenario(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	register(t, r, "A", 1, time.Minute, &stubProvider{fn: func(ctx context.Context, params map[string]string) (any, error) {
		return nil, fmt.Errorf("connection refused")
	}})
	register(t, r, "B", 2, time.Minute, &stubProvider{fn: func(ctx context.Context, params map[string]string) (any, error) {
		return nil, fmt.Errorf("quota: %w", ErrRateLimited)
	}})
	cStub := &stubProvider{}
	register(t, r, "C", 2, time.Minute, cStub)
	o, _ := newOrchestrator(r)

	env, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if env.Meta.Source != "C" || env.Meta.Cached {
		t.Fatalf("unexpected meta: %+v", env.Meta)
	}
	want := []Attempt{{Provider: "A", Reason: ReasonTransport}, {Provider: "B", Reason: ReasonRateLimited}}
	if len(env.Meta.Attempted) != len(want) {
		t.Fatalf("attempted: %+v", env.Meta.Attempted)
	}
	for i, a := range want {
		if env.Meta.Attempted[i] != a {
			t.Fatalf("attempt %d: got %+v, want %+v", i, env.Meta.Attempted[i], a)
		}
	}

	repeat, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("repeat fetch: %v", err)
	}
	if !repeat.Meta.Cached || len(repeat.Meta.Attempted) != 0 {
		t.Fatalf("repeat within TTL should be a clean cache hit: %+v", repeat.Meta)
	}
	if n := cStub.callCount(); n != 1 {
		t.Fatalf("C should have been invoked once, got %d", n)
	}
}

func TestFetchSkipsBackedOffProvider(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	primary := &stubProvider{fn: func(ctx context.Context, params map[string]string) (any, error) {
		return nil, fmt.Errorf("429: %w", ErrRateLimited)
	}}
	secondary := &stubProvider{}

	r := NewRegistry()
	register(t, r, "primary", 1, time.Millisecond, primary)
	register(t, r, "secondary", 2, time.Millisecond, secondary)
	o, health := newOrchestrator(r)
	health.nowFunc = func() time.Time { return now }
	o.store = &neverStore{}

	env, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if env.Meta.Source != "secondary" || len(env.Meta.Attempted) != 1 {
		t.Fatalf("unexpected envelope meta: %+v", env.Meta)
	}

	// Within the rate-limit window the primary is never selected.
	if _, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"}); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if n := primary.callCount(); n != 1 {
		t.Fatalf("primary should not be retried inside backoff, calls=%d", n)
	}

	// Once the window elapses it becomes selectable again.
	now = now.Add(DefaultBackoffPolicy.RateLimitBase + time.Second)
	if _, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"}); err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if n := primary.callCount(); n != 2 {
		t.Fatalf("primary should be retried after backoff, calls=%d", n)
	}
}

func TestFetchDegradedWhenAllBackedOff(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	flaky := &stubProvider{fn: func(ctx context.Context, params map[string]string) (any, error) {
		return nil, fmt.Errorf("boom")
	}}
	r := NewRegistry()
	register(t, r, "only", 1, time.Millisecond, flaky)
	o, health := newOrchestrator(r)
	health.nowFunc = func() time.Time { return now }
	o.store = &neverStore{}

	if _, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"}); err == nil {
		t.Fatal("expected failure")
	}

	// Provider is now backed off, but a lone backed-off candidate is
	// still tried rather than returning nothing at all.
	flaky.fn = nil
	env, err := o.Fetch(context.Background(), domain.CategoryQuote, map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("degraded fetch: %v", err)
	}
	if env.Meta.Source != "only" {
		t.Fatalf("unexpected source: %s", env.Meta.Source)
	}
}

func TestWalkBudgetExceededMidWalk(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	first := &stubProvider{fn: func(ctx context.Context, params map[string]string) (any, error) {
		cancel()
		return nil, fmt.Errorf("boom")
	}}
	second := &stubProvider{}
	r := NewRegistry()
	register(t, r, "first", 1, time.Minute, first)
	register(t, r, "second", 2, time.Minute, second)
	o, _ := newOrchestrator(r)

	params := map[string]string{"symbol": "BTC"}
	_, err := o.walk(ctx, domain.CategoryQuote, params, CacheKey(domain.CategoryQuote, params))

	var be *BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if len(be.Attempts) != 1 || be.Attempts[0].Provider != "first" {
		t.Fatalf("accumulated attempts should be reported: %+v", be.Attempts)
	}
	if n := second.callCount(); n != 0 {
		t.Fatalf("remaining candidates must be abandoned, second calls=%d", n)
	}
}

func TestFetchExpiredCallerDoesNotPoisonJoinedCaller(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	stub := &stubProvider{fn: func(ctx context.Context, params map[string]string) (any, error) {
		once.Do(func() { close(started) })
		<-release
		return domain.Quote{Symbol: "BTC", PriceUSD: 100, LastUpdatedUnix: 1}, nil
	}}
	r := NewRegistry()
	register(t, r, "alpha", 1, time.Minute, stub)
	o, _ := newOrchestrator(r)

	params := map[string]string{"symbol": "BTC"}
	shortCtx, cancel := context.WithCancel(context.Background())

	type result struct {
		env Envelope
		err error
	}
	short := make(chan result, 1)
	go func() {
		env, err := o.Fetch(shortCtx, domain.CategoryQuote, params)
		short <- result{env, err}
	}()
	<-started

	joined := make(chan result, 1)
	go func() {
		env, err := o.Fetch(context.Background(), domain.CategoryQuote, params)
		joined <- result{env, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	res := <-short
	var be *BudgetExceededError
	if !errors.As(res.err, &be) {
		t.Fatalf("expired caller should see its own budget error, got %v", res.err)
	}

	close(release)
	res = <-joined
	if res.err != nil {
		t.Fatalf("joined caller with a live budget must not fail: %v", res.err)
	}
	if res.env.Meta.Source != "alpha" {
		t.Fatalf("unexpected source: %s", res.env.Meta.Source)
	}
}

func registerChainStats(t *testing.T, r *Registry, name string, tier int, symbol string, stub *stubProvider) {
	t.Helper()
	err := r.Register(Descriptor{
		Name:    name,
		Tier:    tier,
		Timeout: time.Second,
		Categories: map[domain.Category]CategoryConfig{
			domain.CategoryOnChain: {TTL: time.Minute, Symbols: []string{symbol}},
		},
	}, map[domain.Category]Caller{
		domain.CategoryOnChain: stub.caller(),
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func TestFetchSymbolConstraintIsolatesChainProviders(t *testing.T) {
	t.Parallel()

	btc := &stubProvider{fn: func(ctx context.Context, params map[string]string) (any, error) {
		return domain.ChainStats{Chain: "bitcoin", Symbol: "BTC"}, nil
	}}
	eth := &stubProvider{fn: func(ctx context.Context, params map[string]string) (any, error) {
		return domain.ChainStats{Chain: "ethereum", Symbol: "ETH"}, nil
	}}
	r := NewRegistry()
	registerChainStats(t, r, "btc-only", 1, "BTC", btc)
	registerChainStats(t, r, "eth-only", 2, "ETH", eth)
	o, health := newOrchestrator(r)

	env, err := o.Fetch(context.Background(), domain.CategoryOnChain, map[string]string{"symbol": "ETH"})
	if err != nil {
		t.Fatalf("eth fetch: %v", err)
	}
	if env.Meta.Source != "eth-only" {
		t.Fatalf("unexpected source: %s", env.Meta.Source)
	}
	if len(env.Meta.Attempted) != 0 {
		t.Fatalf("the btc provider must not be attempted for ETH: %+v", env.Meta.Attempted)
	}
	if n := btc.callCount(); n != 0 {
		t.Fatalf("btc provider invoked for an ETH request, calls=%d", n)
	}
	if s := health.Stats()["btc-only"]; s.ConsecutiveFailures != 0 || s.InBackoff {
		t.Fatalf("btc provider must stay healthy under ETH traffic: %+v", s)
	}

	env, err = o.Fetch(context.Background(), domain.CategoryOnChain, map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("btc fetch after eth traffic: %v", err)
	}
	if env.Meta.Source != "btc-only" {
		t.Fatalf("unexpected source: %s", env.Meta.Source)
	}
}

func TestProviderStatsIncludesUnattempted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	register(t, r, "quiet", 1, time.Minute, &stubProvider{})
	o, _ := newOrchestrator(r)

	stats := o.ProviderStats()
	s, ok := stats["quiet"]
	if !ok {
		t.Fatal("stats should cover every registered provider")
	}
	if s.Successes != 0 || s.Failures != 0 || s.InBackoff {
		t.Fatalf("unexpected zero-state stats: %+v", s)
	}
}

func TestResetProviderUnknown(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(NewRegistry())
	if err := o.ResetProvider("ghost"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

// neverStore always misses, forcing every fetch through the walk.
type neverStore struct{}

func (neverStore) Get(context.Context, string) (Entry, bool) { return Entry{}, false }
func (neverStore) Put(context.Context, string, Entry)        {}
func (neverStore) Clear(context.Context)                     {}
