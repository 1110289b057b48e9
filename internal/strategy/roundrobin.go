package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/lbench/internal/backend"
)

type roundRobinStrategy struct {
	cursor atomic.Uint64
}

// SelectBackend advances the cursor by one and maps it onto the candidates
// present right now, so health changes take effect on the very next pick.
func (rb *roundRobinStrategy) SelectBackend(_ *RoutingContext, backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	n := rb.cursor.Add(1)

	index := (n - 1) % uint64(len(backends))

	return backends[index]
}

// SelectRetry scans forward from the cursor for an untried candidate without
// moving the cursor.
func (rb *roundRobinStrategy) SelectRetry(_ *RoutingContext, backends []*backend.Backend, tried map[int]struct{}) *backend.Backend {
	n := uint64(len(backends))
	if n == 0 {
		return nil
	}

	start := rb.cursor.Load()
	for i := uint64(0); i < n; i++ {
		b := backends[(start+i)%n]
		if _, ok := tried[b.ID()]; !ok {
			return b
		}
	}

	return nil
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}
