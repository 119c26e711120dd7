package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coinlens/internal/domain"
)

// Caller performs one upstream fetch for a category and returns the
// canonical payload for it. Implementations live in internal/provider.
type Caller func(ctx context.Context, params map[string]string) (any, error)

// CategoryConfig holds per-category settings for one provider.
type CategoryConfig struct {
	// TTL is how long a successful result from this provider stays
	// fresh in the cache for this category.
	TTL time.Duration

	// Symbols restricts the provider to specific symbols for this
	// category. Empty means every symbol. A provider outside the
	// constraint is never a candidate, so it takes no health penalty
	// for requests it could never answer.
	Symbols []string
}

// Descriptor is the immutable identity and policy of one provider.
// Lower tiers are tried first; providers within a tier are rotated
// round-robin.
type Descriptor struct {
	Name       string
	Tier       int
	Timeout    time.Duration
	Categories map[domain.Category]CategoryConfig
}

// TTLFor returns the configured TTL for a category, or zero if the
// provider does not serve it.
func (d Descriptor) TTLFor(category domain.Category) time.Duration {
	return d.Categories[category].TTL
}

// Serves reports whether the provider can answer a request for the
// category with the given params.
func (d Descriptor) Serves(category domain.Category, params map[string]string) bool {
	cfg, ok := d.Categories[category]
	if !ok {
		return false
	}
	if len(cfg.Symbols) == 0 {
		return true
	}
	sym := params["symbol"]
	for _, s := range cfg.Symbols {
		if strings.EqualFold(s, sym) {
			return true
		}
	}
	return false
}

type registration struct {
	desc   Descriptor
	caller map[domain.Category]Caller
}

// Registry holds the provider descriptor set and the strategy table
// mapping (provider, category) to a Caller. Registration happens once
// at startup; reads are concurrent.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*registration
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*registration)}
}

// Register adds a provider with one Caller per category it serves.
// Every category in the descriptor must have a caller and vice versa.
func (r *Registry) Register(desc Descriptor, callers map[domain.Category]Caller) error {
	if desc.Name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if len(callers) == 0 {
		return fmt.Errorf("provider %s has no callers", desc.Name)
	}
	for cat := range callers {
		if _, ok := desc.Categories[cat]; !ok {
			return fmt.Errorf("provider %s: caller for undeclared category %s", desc.Name, cat)
		}
	}
	for cat := range desc.Categories {
		if callers[cat] == nil {
			return fmt.Errorf("provider %s: declared category %s has no caller", desc.Name, cat)
		}
	}
	if desc.Timeout <= 0 {
		desc.Timeout = 10 * time.Second
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[desc.Name]; exists {
		return fmt.Errorf("provider %s already registered", desc.Name)
	}
	r.byName[desc.Name] = &registration{desc: desc, caller: callers}
	r.order = append(r.order, desc.Name)
	return nil
}

// Supports reports whether any registered provider serves the category.
func (r *Registry) Supports(category domain.Category) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byName {
		if _, ok := reg.desc.Categories[category]; ok {
			return true
		}
	}
	return false
}

// Descriptor returns the descriptor for a provider name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return reg.desc, true
}

// CallerFor returns the Caller for a (provider, category) pair.
func (r *Registry) CallerFor(name string, category domain.Category) (Caller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	c, ok := reg.caller[category]
	return c, ok
}

// Names returns all registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Tiers returns the providers serving a category grouped by tier,
// ascending. Within a tier, providers appear in registration order;
// the rotator decides the actual walk order per call.
func (r *Registry) Tiers(category domain.Category) []TierGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byTier := make(map[int][]string)
	for _, name := range r.order {
		reg := r.byName[name]
		if _, ok := reg.desc.Categories[category]; ok {
			byTier[reg.desc.Tier] = append(byTier[reg.desc.Tier], name)
		}
	}

	tiers := make([]int, 0, len(byTier))
	for t := range byTier {
		tiers = append(tiers, t)
	}
	sort.Ints(tiers)

	out := make([]TierGroup, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, TierGroup{Tier: t, Providers: byTier[t]})
	}
	return out
}

// TierGroup is one priority tier's providers for a category.
type TierGroup struct {
	Tier      int
	Providers []string
}
