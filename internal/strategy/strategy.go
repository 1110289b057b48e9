package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/angeloszaimis/lbench/internal/backend"
)

const (
	RoundRobin         = "round-robin"
	LeastConnections   = "least-connections"
	WeightedRoundRobin = "weighted-round-robin"
	IPHash             = "ip-hash"
)

// Names lists every supported strategy name.
var Names = []string{RoundRobin, LeastConnections, WeightedRoundRobin, IPHash}

var ErrUnknownStrategy = errors.New("unknown strategy")

// RoutingContext describes the inbound request a backend is being chosen for.
type RoutingContext struct {
	RequestID  string
	ClientAddr string
	Method     string
	Path       string
	Arrival    time.Time
}

type Strategy interface {
	// SelectBackend picks one of candidates, or nil when candidates is empty.
	SelectBackend(rc *RoutingContext, candidates []*backend.Backend) *backend.Backend
}

// RetrySelector is implemented by strategies that keep selection state.
// SelectRetry chooses among candidates outside tried without advancing that
// state, so retries leave the first-attempt sequence untouched. It returns nil
// when every candidate has been tried.
type RetrySelector interface {
	SelectRetry(rc *RoutingContext, candidates []*backend.Backend, tried map[int]struct{}) *backend.Backend
}

type Options struct {
	// VirtualNodes switches ip-hash to a consistent-hash ring with this many
	// points per backend. Zero keeps the modulo scheme.
	VirtualNodes int
}

// New builds the strategy registered under name.
func New(name string, opts Options) (Strategy, error) {
	switch name {
	case RoundRobin:
		return NewRoundRobinStrategy(), nil
	case LeastConnections:
		return NewLeastConnStrategy(), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobinStrategy(), nil
	case IPHash:
		if opts.VirtualNodes > 0 {
			return NewConsistentHashStrategy(opts.VirtualNodes), nil
		}
		return NewIPHashStrategy(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}
