package strategy

import (
	"sync"

	"github.com/angeloszaimis/lbench/internal/backend"
)

// weightedRoundRobinStrategy implements smooth weighted round-robin load balancing.
// Uses the Nginx algorithm: each backend accumulates its weight per selection cycle,
// the highest current value is chosen, then reduced by the sum of all weights.
type weightedRoundRobinStrategy struct {
	mutex   sync.Mutex
	current map[*backend.Backend]int
}

func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{
		current: make(map[*backend.Backend]int),
	}
}

// SelectBackend picks the backend with the highest accumulated credit.
// Credits only accrue for the candidates passed in, so the total weight used
// is that of the currently routable set.
func (w *weightedRoundRobinStrategy) SelectBackend(_ *RoutingContext, backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.cleanup(backends)

	totalWeight := 0
	var chosen *backend.Backend

	for _, b := range backends {
		weight := b.Weight()
		if weight <= 0 {
			continue
		}

		w.current[b] += weight
		totalWeight += weight

		// strict > keeps ties on the lowest registry index
		if chosen == nil || w.current[b] > w.current[chosen] {
			chosen = b
		}
	}

	if chosen == nil {
		return nil
	}

	w.current[chosen] -= totalWeight
	return chosen
}

// SelectRetry returns the untried candidate that the next regular pick would
// favour most, leaving every credit as it was.
func (w *weightedRoundRobinStrategy) SelectRetry(_ *RoutingContext, backends []*backend.Backend, tried map[int]struct{}) *backend.Backend {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	var chosen *backend.Backend
	best := 0

	for _, b := range backends {
		if _, ok := tried[b.ID()]; ok || b.Weight() <= 0 {
			continue
		}

		next := w.current[b] + b.Weight()
		if chosen == nil || next > best {
			chosen, best = b, next
		}
	}

	return chosen
}

// cleanup drops credit for backends that are not candidates this round, so a
// backend returning from an outage starts from zero instead of a stale balance.
func (w *weightedRoundRobinStrategy) cleanup(backends []*backend.Backend) {
	if len(w.current) == 0 {
		return
	}

	alive := make(map[*backend.Backend]struct{}, len(backends))

	for _, b := range backends {
		alive[b] = struct{}{}
	}

	for b := range w.current {
		if _, ok := alive[b]; !ok {
			delete(w.current, b)
		}
	}
}
