package metrics

import (
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/lbench/internal/backend"
)

type RejectReason string

const (
	// RejectUnavailable: no routable backend.
	RejectUnavailable RejectReason = "unavailable"
	// RejectBusy: concurrency limit and wait queue both full.
	RejectBusy RejectReason = "busy"
)

// Aggregator records request outcomes against the backends of a registry.
type Aggregator struct {
	registry    *backend.Registry
	algorithm   string
	unavailable atomic.Uint64
	busy        atomic.Uint64
	prom        *promMirror
	startTime   time.Time
}

type Snapshot struct {
	TakenAt     time.Time
	Uptime      time.Duration
	Algorithm   string
	Backends    []BackendStats
	Unavailable uint64
	Busy        uint64
}

type BackendStats struct {
	Address string
	Weight  int
	Status  backend.Status
	Active  int64
	Total   uint64
	Success uint64
}

func NewAggregator(registry *backend.Registry, algorithm string) *Aggregator {
	a := &Aggregator{
		registry:  registry,
		algorithm: algorithm,
		prom:      newPromMirror(),
		startTime: time.Now(),
	}

	for _, b := range registry.List() {
		a.prom.observeHealth(b.Address(), b.Status())
	}

	return a
}

// RecordStart marks the beginning of a forwarding attempt.
func (a *Aggregator) RecordStart(id int) {
	b := a.registry.Get(id)
	b.AdjustActive(1)
	a.prom.start(b.Address())
}

// RecordEnd marks the end of an attempt started with RecordStart. It must be
// called exactly once per RecordStart.
func (a *Aggregator) RecordEnd(id int, success bool, duration time.Duration) {
	b := a.registry.Get(id)
	b.Complete(success)
	a.prom.end(b.Address(), success, duration)
}

func (a *Aggregator) RecordRejected(reason RejectReason) {
	switch reason {
	case RejectUnavailable:
		a.unavailable.Add(1)
	case RejectBusy:
		a.busy.Add(1)
	}
	a.prom.reject(reason)
}

// ObserveHealth publishes a backend health transition.
func (a *Aggregator) ObserveHealth(b *backend.Backend, status backend.Status) {
	a.prom.observeHealth(b.Address(), status)
}

func (a *Aggregator) Algorithm() string {
	return a.algorithm
}

// Snapshot copies every backend's counters in registry order.
func (a *Aggregator) Snapshot() Snapshot {
	now := time.Now()

	backends := a.registry.List()
	snap := Snapshot{
		TakenAt:     now,
		Uptime:      now.Sub(a.startTime),
		Algorithm:   a.algorithm,
		Backends:    make([]BackendStats, 0, len(backends)),
		Unavailable: a.unavailable.Load(),
		Busy:        a.busy.Load(),
	}

	for _, b := range backends {
		stats := b.Stats()
		snap.Backends = append(snap.Backends, BackendStats{
			Address: b.Address(),
			Weight:  b.Weight(),
			Status:  b.Status(),
			Active:  stats.Active,
			Total:   stats.Total,
			Success: stats.Success,
		})
	}

	return snap
}

// TotalRequests sums completed attempts across backends.
func (s Snapshot) TotalRequests() uint64 {
	var total uint64
	for _, b := range s.Backends {
		total += b.Total
	}
	return total
}

// SuccessRate is the percentage of completed attempts that succeeded.
func (b BackendStats) SuccessRate() float64 {
	return percent(b.Success, b.Total)
}

// Distribution is this backend's percentage of all completed attempts.
func (s Snapshot) Distribution(i int) float64 {
	return percent(s.Backends[i].Total, s.TotalRequests())
}

func percent(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
