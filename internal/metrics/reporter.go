package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Reporter periodically logs an aggregator snapshot.
type Reporter struct {
	aggregator *Aggregator
	interval   time.Duration
	logger     *slog.Logger
}

func NewReporter(aggregator *Aggregator, interval time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{
		aggregator: aggregator,
		interval:   interval,
		logger:     logger,
	}
}

// Run logs a snapshot every interval until ctx is cancelled. A non-positive
// interval disables periodic reporting.
func (r *Reporter) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	r.logger.Info("Metrics reporter started", slog.Duration("interval", r.interval))
	defer r.logger.Info("Metrics reporter stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Log("Server metrics")
		case <-ctx.Done():
			return nil
		}
	}
}

// Log writes the current snapshot, one record per backend.
func (r *Reporter) Log(msg string) Snapshot {
	snap := r.aggregator.Snapshot()
	LogSnapshot(r.logger, msg, snap)
	return snap
}

func LogSnapshot(logger *slog.Logger, msg string, snap Snapshot) {
	logger.Info(msg,
		slog.String("algorithm", snap.Algorithm),
		slog.Uint64("total", snap.TotalRequests()),
		slog.Uint64("rejected_unavailable", snap.Unavailable),
		slog.Uint64("rejected_busy", snap.Busy),
		slog.Duration("uptime", snap.Uptime))

	for i, b := range snap.Backends {
		logger.Info("Backend metrics",
			slog.String("backend", b.Address),
			slog.String("status", b.Status.String()),
			slog.Int("weight", b.Weight),
			slog.Int64("active", b.Active),
			slog.Uint64("total", b.Total),
			slog.Uint64("success", b.Success),
			slog.String("rate", formatPercent(b.SuccessRate())),
			slog.String("distribution", formatPercent(snap.Distribution(i))))
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}
