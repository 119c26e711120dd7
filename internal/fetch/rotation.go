package fetch

import (
	"sync"

	"coinlens/internal/domain"
)

type rotationKey struct {
	category domain.Category
	tier     int
}

// Rotator keeps one round-robin queue per (category, tier) so that
// co-equal providers share load fairly. The queue advances exactly one
// step per selection, whatever the outcome of the call.
type Rotator struct {
	mu     sync.Mutex
	queues map[rotationKey][]string
}

func NewRotator() *Rotator {
	return &Rotator{queues: make(map[rotationKey][]string)}
}

// Order returns the current walk order for a tier's providers and then
// rotates the queue by one (head to tail). The first call seeds the
// queue from the given provider list.
func (r *Rotator) Order(category domain.Category, tier int, providers []string) []string {
	if len(providers) <= 1 {
		out := make([]string, len(providers))
		copy(out, providers)
		return out
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := rotationKey{category: category, tier: tier}
	q, ok := r.queues[key]
	if !ok || len(q) != len(providers) {
		q = make([]string, len(providers))
		copy(q, providers)
	}

	out := make([]string, len(q))
	copy(out, q)

	r.queues[key] = append(q[1:], q[0])
	return out
}
