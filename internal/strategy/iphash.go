package strategy

import (
	"github.com/cespare/xxhash/v2"

	"github.com/angeloszaimis/lbench/internal/backend"
)

// ipHashStrategy maps a client address onto the candidates by hash modulo
// their count. A change in the number of candidates reshuffles most clients;
// use the ring variant when that matters.
type ipHashStrategy struct{}

func (s *ipHashStrategy) SelectBackend(rc *RoutingContext, backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	index := hashKey(rc) % uint64(len(backends))
	return backends[index]
}

func NewIPHashStrategy() Strategy {
	return &ipHashStrategy{}
}

func hashKey(rc *RoutingContext) uint64 {
	if rc == nil {
		return 0
	}
	return xxhash.Sum64String(rc.ClientAddr)
}
