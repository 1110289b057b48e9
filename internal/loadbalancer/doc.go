// Package loadbalancer is the entry point to backend selection. It narrows the
// registry to routable backends, applies retry exclusion and delegates the
// actual choice to the configured strategy.
package loadbalancer
