// Package backend holds the fixed set of backend servers the balancer routes to.
// It provides per-backend health state, connection tracking and request counters,
// and the Registry that owns them for the lifetime of the process.
package backend
