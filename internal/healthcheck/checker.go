package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/lbench/internal/backend"
)

const (
	DefaultInterval           = 2 * time.Second
	DefaultTimeout            = time.Second
	DefaultPath               = "/health"
	DefaultSuspectThreshold   = 1
	DefaultUnhealthyThreshold = 2
	DefaultHealthyThreshold   = 1
)

type Options struct {
	Interval           time.Duration
	Timeout            time.Duration
	Path               string
	SuspectThreshold   int
	UnhealthyThreshold int
	HealthyThreshold   int
}

// Observer is notified after every status transition.
type Observer interface {
	ObserveHealth(b *backend.Backend, status backend.Status)
}

// Checker owns every backend health transition.
type Checker struct {
	registry *backend.Registry
	opts     Options
	client   *http.Client
	logger   *slog.Logger
	observer Observer

	mutex     sync.Mutex
	failures  []int
	successes []int
}

// New builds a checker. Zero option fields fall back to the defaults and a
// nil observer is allowed.
func New(registry *backend.Registry, opts Options, logger *slog.Logger, observer Observer) *Checker {
	opts = opts.withDefaults()

	return &Checker{
		registry:  registry,
		opts:      opts,
		client:    &http.Client{Timeout: opts.Timeout},
		logger:    logger,
		observer:  observer,
		failures:  make([]int, registry.Len()),
		successes: make([]int, registry.Len()),
	}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Path == "" {
		o.Path = DefaultPath
	}
	if o.SuspectThreshold <= 0 {
		o.SuspectThreshold = DefaultSuspectThreshold
	}
	if o.UnhealthyThreshold <= 0 {
		o.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if o.UnhealthyThreshold < o.SuspectThreshold {
		o.UnhealthyThreshold = o.SuspectThreshold
	}
	if o.HealthyThreshold <= 0 {
		o.HealthyThreshold = DefaultHealthyThreshold
	}
	return o
}

// Run probes all backends immediately and then once per interval until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) error {
	c.logger.Info("Health checker started",
		slog.Duration("interval", c.opts.Interval),
		slog.String("path", c.opts.Path),
		slog.Int("backends", c.registry.Len()))

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.ProbeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Health checker stopped")
			return nil
		case <-ticker.C:
			c.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every backend concurrently and applies the outcomes.
func (c *Checker) ProbeAll(ctx context.Context) {
	var g errgroup.Group

	for _, b := range c.registry.List() {
		g.Go(func() error {
			healthy := c.probe(ctx, b)
			if ctx.Err() != nil {
				return nil
			}
			c.record(b, healthy)
			return nil
		})
	}

	g.Wait()
}

func (c *Checker) probe(ctx context.Context, b *backend.Backend) bool {
	target := b.URL().ResolveReference(&url.URL{Path: c.opts.Path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return false
	}

	res, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Health probe failed",
			slog.String("backend", b.Address()),
			slog.String("error", err.Error()))
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return res.StatusCode >= 200 && res.StatusCode < 300
}

func (c *Checker) record(b *backend.Backend, healthy bool) {
	id := b.ID()

	c.mutex.Lock()
	var next backend.Status
	current := b.Status()
	if healthy {
		c.failures[id] = 0
		c.successes[id]++
		next = current
		if current != backend.StatusHealthy && c.successes[id] >= c.opts.HealthyThreshold {
			next = backend.StatusHealthy
		}
	} else {
		c.successes[id] = 0
		c.failures[id]++
		next = current
		switch {
		case c.failures[id] >= c.opts.UnhealthyThreshold:
			next = backend.StatusUnhealthy
		case c.failures[id] >= c.opts.SuspectThreshold && current == backend.StatusHealthy:
			next = backend.StatusSuspected
		}
	}
	changed := c.registry.SetHealth(id, next)
	failures := c.failures[id]
	c.mutex.Unlock()

	if !changed {
		return
	}

	switch next {
	case backend.StatusHealthy:
		c.logger.Info("Server is back up",
			slog.String("backend", b.Address()),
			slog.String("from", current.String()))
	case backend.StatusSuspected:
		c.logger.Warn("Server is suspected",
			slog.String("backend", b.Address()),
			slog.Int("consecutive_failures", failures))
	case backend.StatusUnhealthy:
		c.logger.Warn("Server is down",
			slog.String("backend", b.Address()),
			slog.Int("consecutive_failures", failures))
	}

	if c.observer != nil {
		c.observer.ObserveHealth(b, next)
	}
}
