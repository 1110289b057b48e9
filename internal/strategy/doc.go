// Package strategy defines the load balancing strategy interface and
// implements the selection algorithms:
//
//   - Round Robin: Sequential distribution across backends
//   - Least Connections: Routes to backend with fewest active connections
//   - Weighted Round Robin: Smooth distribution proportional to backend weights
//   - IP Hash: Client address affinity, modulo or consistent-hash ring
//
// Strategies only ever choose from the candidates they are given; filtering
// out unhealthy backends is the caller's job.
package strategy
