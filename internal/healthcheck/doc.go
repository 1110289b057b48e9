// Package healthcheck probes backend servers on a fixed interval and moves
// them between healthy, suspected and unhealthy based on consecutive probe
// outcomes.
package healthcheck
