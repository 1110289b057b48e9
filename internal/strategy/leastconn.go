package strategy

import (
	"github.com/angeloszaimis/lbench/internal/backend"
)

type leastConnStrategy struct{}

// SelectBackend returns the candidate with the fewest active connections.
// Ties go to the earliest candidate, i.e. the lowest registry index.
func (l *leastConnStrategy) SelectBackend(_ *RoutingContext, backends []*backend.Backend) *backend.Backend {
	var bestBackend *backend.Backend
	var bestConns int64

	for _, b := range backends {
		activeConns := b.ActiveConnections()
		if bestBackend == nil || activeConns < bestConns {
			bestConns = activeConns
			bestBackend = b
		}
	}

	return bestBackend
}

func NewLeastConnStrategy() Strategy {
	return &leastConnStrategy{}
}
