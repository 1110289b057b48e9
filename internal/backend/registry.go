package backend

import "fmt"

// Registry owns the fixed, ordered set of backends. Membership never changes
// after NewRegistry; only per-backend state does.
type Registry struct {
	backends []*Backend
}

// NewRegistry registers the given backends, assigning ids in argument order.
func NewRegistry(backends ...*Backend) *Registry {
	list := make([]*Backend, len(backends))
	for i, b := range backends {
		b.id = i
		list[i] = b
	}

	return &Registry{backends: list}
}

func (r *Registry) Len() int {
	return len(r.backends)
}

// List returns all backends in registry order.
func (r *Registry) List() []*Backend {
	out := make([]*Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

// HealthySubset returns the routable backends in registry order.
// Suspected backends are routable; unhealthy ones are not.
func (r *Registry) HealthySubset() []*Backend {
	healthy := make([]*Backend, 0, len(r.backends))

	for _, b := range r.backends {
		if b.IsRoutable() {
			healthy = append(healthy, b)
		}
	}

	return healthy
}

// Get returns the backend with the given id. An unknown id is a programming
// error and panics.
func (r *Registry) Get(id int) *Backend {
	if id < 0 || id >= len(r.backends) {
		panic(fmt.Sprintf("backend: unknown backend id %d", id))
	}
	return r.backends[id]
}

func (r *Registry) SetHealth(id int, status Status) (changed bool) {
	return r.Get(id).SetStatus(status)
}

func (r *Registry) AdjustActive(id int, delta int64) {
	r.Get(id).AdjustActive(delta)
}

func (r *Registry) IncrementCounters(id int, success bool) {
	r.Get(id).IncrementCounters(success)
}
