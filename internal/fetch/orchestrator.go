package fetch

import (
	"context"
	"fmt"
	"time"

	"coinlens/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Orchestrator is the entry point of the data-fetch layer. Given a
// logical request it walks candidate providers in priority order,
// absorbing per-provider failures, and returns a canonical envelope.
type Orchestrator struct {
	registry   *Registry
	health     *HealthTracker
	rotator    *Rotator
	store      Store
	group      singleflight.Group
	tracer     trace.Tracer
	nowFunc    func() time.Time
	walkBudget time.Duration
}

func NewOrchestrator(tracer trace.Tracer, registry *Registry, health *HealthTracker, store Store) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		health:     health,
		rotator:    NewRotator(),
		store:      store,
		tracer:     tracer,
		nowFunc:    time.Now,
		walkBudget: 30 * time.Second,
	}
}

// Fetch resolves one logical data request. The fast path is a cache hit,
// which touches no provider, no health state, and no rotation queue.
// Concurrent calls for the same key share a single upstream fetch.
//
// On total failure the returned envelope lists every provider attempted
// with its failure reason; failure envelopes are never cached.
func (o *Orchestrator) Fetch(ctx context.Context, category domain.Category, params map[string]string) (Envelope, error) {
	ctx, span := o.tracer.Start(ctx, "fetch.orchestrate")
	defer span.End()
	span.SetAttributes(attribute.String("category", string(category)))

	if !o.registry.Supports(category) {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnsupportedCategory, category)
	}

	key := CacheKey(category, params)

	if entry, ok := o.store.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		return Envelope{
			Success:  true,
			Category: category,
			Data:     entry.Payload,
			Meta: Meta{
				Source:    entry.Provider,
				Cached:    true,
				FetchedAt: entry.FetchedAt,
			},
		}, nil
	}

	// The walk runs on its own budget, detached from the initiating
	// caller's cancellation, so one short-deadline caller cannot fail
	// every caller that joined the flight. Callers whose own context
	// expires while waiting report their own budget error.
	ch := o.group.DoChan(key, func() (any, error) {
		walkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.walkBudget)
		defer cancel()
		env, err := o.walk(walkCtx, category, params, key)
		if err != nil {
			return nil, err
		}
		return env, nil
	})

	select {
	case <-ctx.Done():
		return failureEnvelope(category, nil), &BudgetExceededError{Category: category}
	case res := <-ch:
		if res.Err != nil {
			if ex, ok := res.Err.(*ExhaustedError); ok {
				return failureEnvelope(category, ex.Attempts), res.Err
			}
			if be, ok := res.Err.(*BudgetExceededError); ok {
				return failureEnvelope(category, be.Attempts), res.Err
			}
			return Envelope{}, res.Err
		}
		if res.Shared {
			span.SetAttributes(attribute.Bool("singleflight_shared", true))
		}
		return res.Val.(Envelope), nil
	}
}

// walk runs the candidate loop for one uncached key.
func (o *Orchestrator) walk(ctx context.Context, category domain.Category, params map[string]string, key string) (Envelope, error) {
	candidates, all := o.candidates(category, params)

	var attempts []Attempt
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return Envelope{}, &BudgetExceededError{Category: category, Attempts: attempts}
		}

		payload, fetchedAt, err := o.invoke(ctx, name, category, params)
		if err == nil {
			desc, _ := o.registry.Descriptor(name)
			o.store.Put(ctx, key, Entry{
				Payload:   payload,
				Provider:  name,
				FetchedAt: fetchedAt,
				TTL:       desc.TTLFor(category),
			})
			o.health.MarkSuccess(name)
			return Envelope{
				Success:  true,
				Category: category,
				Data:     payload,
				Meta: Meta{
					Source:    name,
					Cached:    false,
					FetchedAt: fetchedAt,
					Attempted: attempts,
				},
			}, nil
		}

		reason := classifyReason(err)
		attempts = append(attempts, Attempt{Provider: name, Reason: reason})
		o.health.MarkFailure(name, reason, err.Error())
	}

	if len(candidates) == 0 && len(all) > 0 {
		// Every provider is backed off. Try the least-recently
		// backed-off one anyway rather than failing outright.
		name := o.health.LeastRecentlyBackedOff(all)
		payload, fetchedAt, err := o.invoke(ctx, name, category, params)
		if err == nil {
			desc, _ := o.registry.Descriptor(name)
			o.store.Put(ctx, key, Entry{
				Payload:   payload,
				Provider:  name,
				FetchedAt: fetchedAt,
				TTL:       desc.TTLFor(category),
			})
			o.health.MarkSuccess(name)
			return Envelope{
				Success:  true,
				Category: category,
				Data:     payload,
				Meta:     Meta{Source: name, Cached: false, FetchedAt: fetchedAt},
			}, nil
		}
		reason := classifyReason(err)
		attempts = append(attempts, Attempt{Provider: name, Reason: reason})
		o.health.MarkFailure(name, reason, err.Error())
	}

	return Envelope{}, &ExhaustedError{Category: category, Attempts: attempts}
}

// candidates builds the ordered walk list: tiers ascending, round-robin
// order within each tier, providers in live backoff filtered out.
// Providers whose symbol constraint excludes the request never enter
// the walk, so a capability mismatch is not an attempt and not a
// health event. The second return value is the backoff-unfiltered
// list, used for degraded selection when everything is backed off.
func (o *Orchestrator) candidates(category domain.Category, params map[string]string) (selectable, all []string) {
	for _, tg := range o.registry.Tiers(category) {
		servable := make([]string, 0, len(tg.Providers))
		for _, name := range tg.Providers {
			desc, _ := o.registry.Descriptor(name)
			if desc.Serves(category, params) {
				servable = append(servable, name)
			}
		}
		if len(servable) == 0 {
			continue
		}
		ordered := o.rotator.Order(category, tg.Tier, servable)
		for _, name := range ordered {
			all = append(all, name)
			if o.health.Available(name) {
				selectable = append(selectable, name)
			}
		}
	}
	return selectable, all
}

// invoke runs one provider call under its configured timeout.
func (o *Orchestrator) invoke(ctx context.Context, name string, category domain.Category, params map[string]string) (any, time.Time, error) {
	caller, ok := o.registry.CallerFor(name, category)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("no caller for %s/%s", name, category)
	}
	desc, _ := o.registry.Descriptor(name)

	callCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	defer cancel()

	ctx, span := o.tracer.Start(callCtx, "fetch.invoke")
	span.SetAttributes(
		attribute.String("provider", name),
		attribute.String("category", string(category)),
	)
	defer span.End()

	payload, err := caller(ctx, params)
	if err != nil {
		return nil, time.Time{}, err
	}
	return payload, o.nowFunc().UTC(), nil
}

// ResetProvider clears health and backoff state for one provider.
func (o *Orchestrator) ResetProvider(name string) error {
	if _, ok := o.registry.Descriptor(name); !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	o.health.Reset(name)
	return nil
}

// ClearCache invalidates every cache entry, forcing fresh data on the
// next fetch for each key.
func (o *Orchestrator) ClearCache(ctx context.Context) {
	o.store.Clear(ctx)
}

// ProviderStats returns the per-provider health snapshot. Providers
// never yet attempted report zeroed stats.
func (o *Orchestrator) ProviderStats() map[string]ProviderStats {
	stats := o.health.Stats()
	for _, name := range o.registry.Names() {
		if _, ok := stats[name]; !ok {
			stats[name] = ProviderStats{Provider: name}
		}
	}
	return stats
}

func failureEnvelope(category domain.Category, attempts []Attempt) Envelope {
	return Envelope{
		Success:  false,
		Category: category,
		Meta:     Meta{Cached: false, Attempted: attempts},
	}
}
