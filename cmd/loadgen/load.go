package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type loadOptions struct {
	URL         string
	Concurrency int
	Requests    int
	GetRatio    float64
	Body        string
	Clients     int
	// Rate caps requests per second; zero sends as fast as workers allow.
	Rate float64
}

type backendSummary struct {
	Total   int     `json:"total"`
	Success int     `json:"success"`
	Failure int     `json:"failure"`
	Share   float64 `json:"share_pct"`
	P50     float64 `json:"p50_ms"`
	P99     float64 `json:"p99_ms"`

	latencies []time.Duration
}

type report struct {
	Target      string                     `json:"target"`
	Requests    int                        `json:"requests"`
	Concurrency int                        `json:"concurrency"`
	Sent        int                        `json:"total_sent"`
	Success     int                        `json:"success"`
	Failure     int                        `json:"failure"`
	Gets        int                        `json:"gets"`
	Posts       int                        `json:"posts"`
	Duration    time.Duration              `json:"duration_ns"`
	Throughput  float64                    `json:"throughput_rps"`
	StatusCodes map[int]int                `json:"status_codes"`
	Backends    map[string]*backendSummary `json:"backends"`

	mutex sync.Mutex
}

var errInvalidOptions = errors.New("invalid load options")

func runLoad(ctx context.Context, client *http.Client, opts loadOptions) (*report, error) {
	if opts.Concurrency < 1 || opts.Requests < 1 {
		return nil, fmt.Errorf("%w: concurrency and requests must be positive", errInvalidOptions)
	}
	if opts.GetRatio < 0 || opts.GetRatio > 1 {
		return nil, fmt.Errorf("%w: get ratio must be within [0, 1]", errInvalidOptions)
	}
	if opts.Clients < 1 {
		opts.Clients = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}

	rep := &report{
		Target:      opts.URL,
		Requests:    opts.Requests,
		Concurrency: opts.Concurrency,
		StatusCodes: make(map[int]int),
		Backends:    make(map[string]*backendSummary),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	start := time.Now()
	for i := 0; i < opts.Requests; i++ {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			rep.record(send(gctx, client, opts, i))
			return nil
		})
	}
	g.Wait()

	rep.Duration = time.Since(start)
	if secs := rep.Duration.Seconds(); secs > 0 {
		rep.Throughput = float64(rep.Sent) / secs
	}
	rep.finish()

	return rep, nil
}

type outcome struct {
	get      bool
	status   int
	backend  string
	duration time.Duration
	err      error
}

func send(ctx context.Context, client *http.Client, opts loadOptions, idx int) outcome {
	out := outcome{get: rand.Float64() < opts.GetRatio}

	method := http.MethodPost
	var body io.Reader = strings.NewReader(opts.Body)
	if out.get {
		method = http.MethodGet
		body = nil
	}

	req, err := http.NewRequestWithContext(ctx, method, opts.URL, body)
	if err != nil {
		out.err = err
		return out
	}
	if !out.get {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.168.%d.%d", (idx%opts.Clients)/250, (idx%opts.Clients)%250+1))

	start := time.Now()
	resp, err := client.Do(req)
	out.duration = time.Since(start)
	if err != nil {
		out.err = err
		return out
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	out.status = resp.StatusCode
	out.backend = resp.Header.Get("X-Backend-Server")
	return out
}

func (r *report) record(o outcome) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.Sent++
	if o.get {
		r.Gets++
	} else {
		r.Posts++
	}

	ok := o.err == nil && o.status >= 200 && o.status < 300
	if ok {
		r.Success++
	} else {
		r.Failure++
	}

	if o.err != nil {
		return
	}
	r.StatusCodes[o.status]++

	name := o.backend
	if name == "" {
		name = "(none)"
	}
	bs, found := r.Backends[name]
	if !found {
		bs = &backendSummary{}
		r.Backends[name] = bs
	}
	bs.Total++
	if ok {
		bs.Success++
	} else {
		bs.Failure++
	}
	bs.latencies = append(bs.latencies, o.duration)
}

func (r *report) finish() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	answered := 0
	for _, bs := range r.Backends {
		answered += bs.Total
	}

	for _, bs := range r.Backends {
		if answered > 0 {
			bs.Share = float64(bs.Total) / float64(answered) * 100
		}
		if len(bs.latencies) == 0 {
			continue
		}
		sort.Slice(bs.latencies, func(i, j int) bool { return bs.latencies[i] < bs.latencies[j] })
		bs.P50 = millis(percentile(bs.latencies, 0.50))
		bs.P99 = millis(percentile(bs.latencies, 0.99))
	}
}

func (r *report) write(w io.Writer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	fmt.Fprintln(w, "--- Load Test Summary ---")
	fmt.Fprintf(w, "Target: %s\n", r.Target)
	fmt.Fprintf(w, "Requests: %d  Concurrency: %d  GET: %d  POST: %d\n", r.Requests, r.Concurrency, r.Gets, r.Posts)
	fmt.Fprintf(w, "Total sent: %d  Success: %d  Failure: %d\n", r.Sent, r.Success, r.Failure)
	fmt.Fprintf(w, "Duration: %v  Throughput: %.2f req/s\n", r.Duration, r.Throughput)

	fmt.Fprintln(w, "\nStatus codes:")
	codes := make([]int, 0, len(r.StatusCodes))
	for code := range r.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d -> %d\n", code, r.StatusCodes[code])
	}

	fmt.Fprintln(w, "\nBackend distribution:")
	names := make([]string, 0, len(r.Backends))
	for name := range r.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bs := r.Backends[name]
		fmt.Fprintf(w, "  %s -> total=%d (%.1f%%) success=%d failure=%d p50=%.1fms p99=%.1fms\n",
			name, bs.Total, bs.Share, bs.Success, bs.Failure, bs.P50, bs.P99)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
