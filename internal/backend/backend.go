package backend

import (
	"math/rand/v2"
	"net/url"
	"sync"
	"sync/atomic"
)

const (
	MinRandomWeight = 1
	MaxRandomWeight = 10
)

// Backend represents a backend server with health status, connection tracking,
// and cumulative request counters.
type Backend struct {
	id      int
	url     *url.URL
	weight  int
	status  atomic.Int32
	mutex   sync.Mutex
	active  int64
	total   uint64
	success uint64
}

// Stats is a consistent copy of a backend's counters.
type Stats struct {
	Active  int64
	Total   uint64
	Success uint64
}

// New creates a new Backend for the given URL.
// A weight below 1 is replaced by a random weight in [1, 10].
// The backend starts in a healthy state.
func New(u *url.URL, weight int) *Backend {
	if weight < 1 {
		weight = MinRandomWeight + rand.IntN(MaxRandomWeight-MinRandomWeight+1)
	}

	b := &Backend{
		id:     -1,
		url:    u,
		weight: weight,
	}
	b.status.Store(int32(StatusHealthy))

	return b
}

// ID returns the registry index of the backend, or -1 if it is not registered.
func (b *Backend) ID() int {
	return b.id
}

// URL returns the backend server URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Address returns the host:port identity of the backend.
func (b *Backend) Address() string {
	return b.url.Host
}

func (b *Backend) Weight() int {
	return b.weight
}

func (b *Backend) Status() Status {
	return Status(b.status.Load())
}

// SetStatus updates the backend's health status.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetStatus(status Status) (changed bool) {
	return Status(b.status.Swap(int32(status))) != status
}

// IsRoutable returns true if the backend may currently receive traffic.
func (b *Backend) IsRoutable() bool {
	return b.Status().Routable()
}

// AdjustActive adds delta to the active connection count. The count never drops below zero.
func (b *Backend) AdjustActive(delta int64) {
	b.mutex.Lock()
	b.active += delta
	if b.active < 0 {
		b.active = 0
	}
	b.mutex.Unlock()
}

// IncrementCounters records one finished request.
func (b *Backend) IncrementCounters(success bool) {
	b.mutex.Lock()
	b.total++
	if success {
		b.success++
	}
	b.mutex.Unlock()
}

// Complete releases one active connection and records its outcome in a single
// critical section, so readers never observe one without the other.
func (b *Backend) Complete(success bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.active > 0 {
		b.active--
	}
	b.total++
	if success {
		b.success++
	}
}

// ActiveConnections returns the current number of active connections.
func (b *Backend) ActiveConnections() int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.active
}

func (b *Backend) Stats() Stats {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return Stats{
		Active:  b.active,
		Total:   b.total,
		Success: b.success,
	}
}
