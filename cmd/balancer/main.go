package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/lbench/config"
	"github.com/angeloszaimis/lbench/internal/backend"
	"github.com/angeloszaimis/lbench/internal/handler"
	"github.com/angeloszaimis/lbench/internal/healthcheck"
	"github.com/angeloszaimis/lbench/internal/httpserver"
	"github.com/angeloszaimis/lbench/internal/loadbalancer"
	"github.com/angeloszaimis/lbench/internal/metrics"
	"github.com/angeloszaimis/lbench/internal/strategy"
	"github.com/angeloszaimis/lbench/pkg/logger"
)

func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:       cfg.Logging.Level,
		Environment: cfg.Server.Environment,
		AddSource:   true,
	})

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to start load balancer", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.run(ctx, os.Stdout); err != nil {
		log.Error("Load balancer stopped with error", slog.Any("err", err))
		cancel()
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *backend.Registry
	metrics  *metrics.Aggregator
	router   *handler.Router
	checker  *healthcheck.Checker
	reporter *metrics.Reporter
	server   *httpserver.Server
}

// newApp wires every component and binds the listening socket, so a port
// already in use is reported before anything runs.
func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	registry, err := initializeRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	strat, err := strategy.New(cfg.Strategy.Type, strategy.Options{VirtualNodes: cfg.Strategy.VirtualNodes})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	lb := loadbalancer.NewLoadBalancer(registry, cfg.Strategy.Type, strat)
	agg := metrics.NewAggregator(registry, cfg.Strategy.Type)

	router := handler.NewRouter(log, lb, agg, handler.Options{
		ConcurrencyLimit: cfg.Router.ConcurrencyLimit,
		QueueDepth:       cfg.Router.QueueDepth,
		AttemptTimeout:   cfg.Router.AttemptTimeoutDuration(),
		MaxAttempts:      cfg.Router.MaxAttempts,
		MaxBodyBytes:     cfg.Router.MaxBodyBytes,
	}, nil)

	checker := healthcheck.New(registry, healthcheck.Options{
		Interval:           cfg.HealthCheck.IntervalDuration(),
		Timeout:            cfg.HealthCheck.TimeoutDuration(),
		Path:               cfg.HealthCheck.Path,
		SuspectThreshold:   cfg.HealthCheck.SuspectThreshold,
		UnhealthyThreshold: cfg.HealthCheck.UnhealthyThreshold,
		HealthyThreshold:   cfg.HealthCheck.HealthyThreshold,
	}, log, agg)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(router, agg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	if err := srv.Listen(); err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  agg,
		router:   router,
		checker:  checker,
		reporter: metrics.NewReporter(agg, cfg.Metrics.ReportIntervalDuration(), log),
		server:   srv,
	}, nil
}

// run serves until ctx is cancelled or a component fails, drains in-flight
// requests and writes the final metrics to out.
func (a *app) run(ctx context.Context, out io.Writer) error {
	a.log.Info("Load balancer started",
		slog.String("address", a.server.Addr()),
		slog.String("algorithm", a.metrics.Algorithm()),
		slog.Int("backends", a.registry.Len()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.server.Serve)
	g.Go(func() error { return a.checker.Run(gctx) })
	g.Go(func() error { return a.reporter.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	err := g.Wait()

	snap := a.reporter.Log("Final metrics")
	fmt.Fprintln(out, "Final metrics:")
	if renderErr := metrics.Render(out, snap); renderErr != nil {
		a.log.Warn("Failed to print final metrics", slog.Any("err", renderErr))
	}

	return err
}

// abortSettle is how long aborted requests get to record their outcome once
// the grace period is over.
const abortSettle = 100 * time.Millisecond

// shutdown drains within a single grace deadline. Connections still open at
// the deadline are closed and their upstream attempts aborted.
func (a *app) shutdown() {
	a.log.Info("Shutting down gracefully...")

	grace := a.cfg.Server.ShutdownGraceDuration()
	deadline := time.Now().Add(grace)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	if err := a.server.Shutdown(ctx, grace); err != nil {
		a.log.Warn("Forced connections closed after grace period", slog.Any("err", err))
	}

	a.router.Abort()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), max(time.Until(deadline), abortSettle))
	defer waitCancel()

	if err := a.router.Wait(waitCtx); err != nil {
		a.log.Warn("In-flight requests still running at exit", slog.Any("err", err))
	}
}

func initializeRegistry(cfg *config.Config, log *slog.Logger) (*backend.Registry, error) {
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("%w: no backends configured", config.ErrInvalidConfig)
	}

	backends := make([]*backend.Backend, 0, len(cfg.Backends))

	for _, bc := range cfg.Backends {
		u, err := bc.URL()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}

		b := backend.New(u, bc.Weight)
		backends = append(backends, b)

		log.Info("Registered backend",
			slog.String("backend", b.Address()),
			slog.Int("weight", b.Weight()),
			slog.Bool("random_weight", bc.Weight == 0))
	}

	return backend.NewRegistry(backends...), nil
}
