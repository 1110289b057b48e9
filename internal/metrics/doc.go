// Package metrics aggregates per-backend request counters for the load balancer.
//
// The Aggregator is updated synchronously on the request path:
//   - RecordStart when a forwarding attempt begins (active connections +1)
//   - RecordEnd when it finishes (active -1, total +1, success +1 on success)
//   - RecordRejected when a request is turned away before any attempt
//
// Counters live on the backends themselves, each behind its own lock, so a
// Snapshot is consistent per backend without serializing unrelated backends.
// Every update is mirrored into a private Prometheus registry.
//
// Example usage:
//
//	agg := metrics.NewAggregator(registry, "round-robin")
//	agg.RecordStart(b.ID())
//	// forward...
//	agg.RecordEnd(b.ID(), err == nil, time.Since(start))
//
//	snap := agg.Snapshot()
//	metrics.Render(os.Stdout, snap)
//
// Render produces the line-oriented text served on /metrics; the Reporter logs
// the same snapshot on a fixed interval.
package metrics
