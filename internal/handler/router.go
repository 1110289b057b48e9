package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/angeloszaimis/lbench/internal/backend"
	"github.com/angeloszaimis/lbench/internal/loadbalancer"
	"github.com/angeloszaimis/lbench/internal/metrics"
	"github.com/angeloszaimis/lbench/internal/strategy"
)

const (
	DefaultConcurrencyLimit = 500
	DefaultQueueDepth       = 1000
	DefaultAttemptTimeout   = 5 * time.Second
	DefaultMaxAttempts      = 2
	DefaultMaxBodyBytes     = 10 << 20
)

type Options struct {
	// ConcurrencyLimit caps requests being forwarded at once.
	ConcurrencyLimit int
	// QueueDepth caps requests waiting for a slot. Zero rejects as soon as
	// the limit is reached.
	QueueDepth     int
	AttemptTimeout time.Duration
	MaxAttempts    int
	MaxBodyBytes   int64
}

func (o Options) withDefaults() Options {
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if o.QueueDepth < 0 {
		o.QueueDepth = 0
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return o
}

// Router forwards inbound requests to the backend chosen by the load balancer.
type Router struct {
	logger   *slog.Logger
	balancer *loadbalancer.LoadBalancer
	metrics  *metrics.Aggregator
	client   *http.Client
	opts     Options

	slots    *semaphore.Weighted
	waiting  atomic.Int64
	inflight sync.WaitGroup

	stopped context.Context
	abort   context.CancelFunc
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// NewRouter builds a router. A nil client gets a default one that does not
// follow redirects.
func NewRouter(logger *slog.Logger, lb *loadbalancer.LoadBalancer, agg *metrics.Aggregator, opts Options, client *http.Client) *Router {
	opts = opts.withDefaults()

	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	stopped, abort := context.WithCancel(context.Background())

	return &Router{
		logger:   logger,
		balancer: lb,
		metrics:  agg,
		client:   client,
		opts:     opts,
		slots:    semaphore.NewWeighted(int64(opts.ConcurrencyLimit)),
		stopped:  stopped,
		abort:    abort,
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.inflight.Add(1)
	defer rt.inflight.Done()

	rc := &strategy.RoutingContext{
		RequestID:  requestID(r),
		ClientAddr: extractClientIP(r),
		Method:     r.Method,
		Path:       r.URL.Path,
		Arrival:    time.Now(),
	}

	rt.logger.Debug("Received request",
		slog.String("request_id", rc.RequestID),
		slog.String("from", rc.ClientAddr),
		slog.String("method", rc.Method),
		slog.String("path", rc.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host),
		slog.String("user_agent", r.UserAgent()))

	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	defer func() {
		rt.logger.Debug("Request completed",
			slog.String("request_id", rc.RequestID),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(rc.Arrival)))
	}()

	if err := rt.acquire(r.Context()); err != nil {
		if errors.Is(err, ErrConcurrencyLimit) {
			rt.metrics.RecordRejected(metrics.RejectBusy)
			rt.logger.Warn("Rejecting request",
				slog.String("request_id", rc.RequestID),
				slog.String("error", err.Error()))
			wrapped.Header().Set("Retry-After", "1")
			http.Error(wrapped, "Server busy", http.StatusServiceUnavailable)
		}
		return
	}
	defer rt.slots.Release(1)

	body, err := readBody(wrapped, r, rt.opts.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			http.Error(wrapped, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(wrapped, "Failed to read request body", http.StatusBadRequest)
		}
		return
	}

	rt.route(wrapped, r, rc, body)
}

// acquire takes a forwarding slot, waiting in the queue when the limit is
// reached and the queue still has room.
func (rt *Router) acquire(ctx context.Context) error {
	if rt.slots.TryAcquire(1) {
		return nil
	}

	if rt.waiting.Add(1) > int64(rt.opts.QueueDepth) {
		rt.waiting.Add(-1)
		return fmt.Errorf("%w: %d in flight, %d queued",
			ErrConcurrencyLimit, rt.opts.ConcurrencyLimit, rt.opts.QueueDepth)
	}
	defer rt.waiting.Add(-1)

	return rt.slots.Acquire(ctx, 1)
}

func (rt *Router) route(w http.ResponseWriter, r *http.Request, rc *strategy.RoutingContext, body []byte) {
	tried := make(map[int]struct{}, rt.opts.MaxAttempts)
	var lastErr error

	for attempt := 1; attempt <= rt.opts.MaxAttempts; attempt++ {
		b := rt.balancer.Select(rc, tried)
		if b == nil {
			if attempt == 1 {
				rt.metrics.RecordRejected(metrics.RejectUnavailable)
				rt.logger.Warn("Rejecting request",
					slog.String("request_id", rc.RequestID),
					slog.String("client", rc.ClientAddr),
					slog.Any("err", ErrNoHealthyBackend))
				http.Error(w, "No healthy server available", http.StatusServiceUnavailable)
				return
			}
			break
		}
		tried[b.ID()] = struct{}{}

		err := rt.forward(w, r, rc, b, body)
		if err == nil {
			return
		}
		lastErr = err

		rt.logger.Warn("Forwarding attempt failed",
			slog.String("request_id", rc.RequestID),
			slog.String("backend", b.Address()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if r.Context().Err() != nil {
			return
		}
		if rt.stopped.Err() != nil {
			break
		}
	}

	status := http.StatusBadGateway
	if errors.Is(lastErr, ErrUpstreamTimeout) {
		status = http.StatusGatewayTimeout
	}

	rt.logger.Error("All forwarding attempts failed",
		slog.String("request_id", rc.RequestID),
		slog.Int("status", status),
		slog.Int("attempts", len(tried)),
		slog.String("error", lastErr.Error()))

	http.Error(w, http.StatusText(status), status)
}

// forward performs one attempt against b. A nil error means a response was
// written to w; any error leaves w untouched so the caller can retry.
func (rt *Router) forward(w http.ResponseWriter, r *http.Request, rc *strategy.RoutingContext, b *backend.Backend, body []byte) error {
	ctx, cancel := context.WithTimeout(r.Context(), rt.opts.AttemptTimeout)
	defer cancel()
	stop := context.AfterFunc(rt.stopped, cancel)
	defer stop()

	req, err := rt.outboundRequest(ctx, r, rc, b, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamConnection, err)
	}

	rt.metrics.RecordStart(b.ID())
	start := time.Now()

	res, err := rt.client.Do(req)
	if err != nil {
		rt.metrics.RecordEnd(b.ID(), false, time.Since(start))
		return classify(ctx, b, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, res.Body)
		rt.metrics.RecordEnd(b.ID(), false, time.Since(start))
		return fmt.Errorf("%w: %s responded %d", ErrUpstreamStatus, b.Address(), res.StatusCode)
	}

	removeHopByHopHeaders(res.Header)
	copyHeader(w.Header(), res.Header)
	w.Header().Set("X-Backend-Server", b.URL().String())
	w.WriteHeader(res.StatusCode)

	_, copyErr := io.Copy(w, res.Body)
	rt.metrics.RecordEnd(b.ID(), copyErr == nil, time.Since(start))

	if copyErr != nil {
		rt.logger.Warn("Response copy interrupted",
			slog.String("request_id", rc.RequestID),
			slog.String("backend", b.Address()),
			slog.String("error", copyErr.Error()))
	}

	return nil
}

func (rt *Router) outboundRequest(ctx context.Context, r *http.Request, rc *strategy.RoutingContext, b *backend.Backend, body []byte) (*http.Request, error) {
	target := *b.URL()
	target.Path = joinPath(target.Path, r.URL.Path)
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery

	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), reader)
	if err != nil {
		return nil, err
	}

	req.Header = r.Header.Clone()
	removeHopByHopHeaders(req.Header)
	setForwardedHeaders(req.Header, r)
	req.Header.Set("X-Request-ID", rc.RequestID)

	return req, nil
}

func classify(ctx context.Context, b *backend.Backend, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrUpstreamTimeout, b.Address(), err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamConnection, b.Address(), err)
}

// Abort cancels every upstream attempt in progress and stops retries. Requests
// still running fail with the usual 502 or 504 and record their outcome.
func (rt *Router) Abort() {
	rt.abort()
}

// Wait blocks until every request that entered ServeHTTP has returned, or
// ctx is done.
func (rt *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rt.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, limit)
		}
		return nil, err
	}

	return body, nil
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	return uuid.NewString()
}

func joinPath(base, path string) string {
	switch {
	case base == "":
		return path
	case path == "":
		return base
	}

	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
