package fetch

import (
	"sync"
	"time"
)

// BackoffPolicy controls how long a provider is excluded from selection
// after failures. Rate-limit windows are typically minutes rather than
// seconds, so that branch uses its own base and cap.
type BackoffPolicy struct {
	StandardBase  time.Duration
	StandardCap   time.Duration
	RateLimitBase time.Duration
	RateLimitCap  time.Duration
}

// DefaultBackoffPolicy doubles from 10s up to 80s for generic failures
// and from 2m up to 16m for rate-limit signals.
var DefaultBackoffPolicy = BackoffPolicy{
	StandardBase:  10 * time.Second,
	StandardCap:   80 * time.Second,
	RateLimitBase: 2 * time.Minute,
	RateLimitCap:  16 * time.Minute,
}

// Delay computes the backoff window for the given consecutive-failure
// count (1-based) and failure class.
func (p BackoffPolicy) Delay(consecutive int, rateLimited bool) time.Duration {
	base, limit := p.StandardBase, p.StandardCap
	if rateLimited {
		base, limit = p.RateLimitBase, p.RateLimitCap
	}
	if consecutive < 1 {
		consecutive = 1
	}
	d := base
	for i := 1; i < consecutive; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		d = limit
	}
	return d
}

type providerHealth struct {
	consecutiveFailures int
	successes           int64
	failures            int64
	lastError           string
	rateLimited         bool
	backoffUntil        time.Time
	backoffSetAt        time.Time
}

// ProviderStats is the read-only health snapshot exposed for diagnostics.
type ProviderStats struct {
	Provider            string    `json:"provider"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	SuccessRate         float64   `json:"success_rate"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	InBackoff           bool      `json:"in_backoff"`
	RateLimited         bool      `json:"rate_limited"`
	BackoffUntil        time.Time `json:"backoff_until,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// HealthTracker owns mutable per-provider health state. All access goes
// through its methods; the orchestrator is the only writer during normal
// operation. Backoff expiry is evaluated lazily at read time.
type HealthTracker struct {
	mu      sync.Mutex
	policy  BackoffPolicy
	entries map[string]*providerHealth
	nowFunc func() time.Time
}

func NewHealthTracker(policy BackoffPolicy) *HealthTracker {
	return &HealthTracker{
		policy:  policy,
		entries: make(map[string]*providerHealth),
		nowFunc: time.Now,
	}
}

func (h *HealthTracker) entry(name string) *providerHealth {
	e, ok := h.entries[name]
	if !ok {
		e = &providerHealth{}
		h.entries[name] = e
	}
	return e
}

// Available reports whether the provider is selectable (not in a live
// backoff window). An expired window is cleared as a side effect.
func (h *HealthTracker) Available(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[name]
	if !ok || e.backoffUntil.IsZero() {
		return true
	}
	if h.nowFunc().Before(e.backoffUntil) {
		return false
	}
	e.backoffUntil = time.Time{}
	e.rateLimited = false
	return true
}

// MarkSuccess resets the failure streak and clears any pending backoff.
func (h *HealthTracker) MarkSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entry(name)
	e.successes++
	e.consecutiveFailures = 0
	e.rateLimited = false
	e.backoffUntil = time.Time{}
	e.lastError = ""
}

// MarkFailure increments the failure streak and schedules the next
// backoff window, using the rate-limit branch when the attempt was
// rejected with a rate-limit signal.
func (h *HealthTracker) MarkFailure(name string, reason Reason, errText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entry(name)
	e.failures++
	e.consecutiveFailures++
	e.lastError = errText
	e.rateLimited = reason == ReasonRateLimited

	now := h.nowFunc()
	e.backoffSetAt = now
	e.backoffUntil = now.Add(h.policy.Delay(e.consecutiveFailures, e.rateLimited))
}

// Reset clears all health state for one provider. Used to bring back a
// provider believed fixed without waiting out its backoff.
func (h *HealthTracker) Reset(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, name)
}

// LeastRecentlyBackedOff picks, among the given providers, the one whose
// backoff was entered longest ago. Providers with no backoff state win
// outright. Used for graceful degradation when every candidate is backed
// off.
func (h *HealthTracker) LeastRecentlyBackedOff(names []string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(names) == 0 {
		return ""
	}
	best := names[0]
	bestAt := h.backoffSetAtLocked(best)
	for _, name := range names[1:] {
		at := h.backoffSetAtLocked(name)
		if at.Before(bestAt) {
			best = name
			bestAt = at
		}
	}
	return best
}

func (h *HealthTracker) backoffSetAtLocked(name string) time.Time {
	e, ok := h.entries[name]
	if !ok {
		return time.Time{}
	}
	return e.backoffSetAt
}

// Stats returns a health snapshot for every provider the tracker has
// seen, keyed by provider name.
func (h *HealthTracker) Stats() map[string]ProviderStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.nowFunc()
	out := make(map[string]ProviderStats, len(h.entries))
	for name, e := range h.entries {
		total := e.successes + e.failures
		rate := 0.0
		if total > 0 {
			rate = float64(e.successes) / float64(total)
		}
		inBackoff := !e.backoffUntil.IsZero() && now.Before(e.backoffUntil)
		s := ProviderStats{
			Provider:            name,
			Successes:           e.successes,
			Failures:            e.failures,
			SuccessRate:         rate,
			ConsecutiveFailures: e.consecutiveFailures,
			InBackoff:           inBackoff,
			RateLimited:         inBackoff && e.rateLimited,
			LastError:           e.lastError,
		}
		if inBackoff {
			s.BackoffUntil = e.backoffUntil
		}
		out[name] = s
	}
	return out
}
