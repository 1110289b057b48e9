package loadbalancer

import (
	"github.com/angeloszaimis/lbench/internal/backend"
	"github.com/angeloszaimis/lbench/internal/strategy"
)

// LoadBalancer applies a strategy to the registry's currently routable backends.
type LoadBalancer struct {
	registry *backend.Registry
	strategy strategy.Strategy
	name     string
}

func NewLoadBalancer(registry *backend.Registry, name string, strat strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{
		registry: registry,
		strategy: strat,
		name:     name,
	}
}

// Select picks a backend for rc. The routable set is re-read on every call.
// Backends in tried are skipped as long as some other routable backend is left;
// when every routable backend has been tried they become eligible again.
// Stateful strategies see the full routable set on a retry so their state
// does not shift.
// Returns nil only when no backend is routable.
func (lb *LoadBalancer) Select(rc *strategy.RoutingContext, tried map[int]struct{}) *backend.Backend {
	candidates := lb.registry.HealthySubset()
	if len(candidates) == 0 {
		return nil
	}

	if len(tried) == 0 {
		return lb.strategy.SelectBackend(rc, candidates)
	}

	untried := excludeTried(candidates, tried)
	if len(untried) == 0 {
		return lb.strategy.SelectBackend(rc, candidates)
	}

	if rs, ok := lb.strategy.(strategy.RetrySelector); ok {
		if b := rs.SelectRetry(rc, candidates, tried); b != nil {
			return b
		}
	}

	return lb.strategy.SelectBackend(rc, untried)
}

func excludeTried(backends []*backend.Backend, tried map[int]struct{}) []*backend.Backend {
	out := make([]*backend.Backend, 0, len(backends))

	for _, b := range backends {
		if _, ok := tried[b.ID()]; !ok {
			out = append(out, b)
		}
	}

	return out
}

func (lb *LoadBalancer) Registry() *backend.Registry {
	return lb.registry
}

// Algorithm returns the configured strategy name.
func (lb *LoadBalancer) Algorithm() string {
	return lb.name
}
