package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/lbench/internal/backend"
)

const namespace = "lbench"

// promMirror keeps Prometheus series in step with the aggregator, on a
// registry private to that aggregator.
type promMirror struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	active   *prometheus.GaugeVec
	health   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
	rejected *prometheus.CounterVec
}

func newPromMirror() *promMirror {
	m := &promMirror{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "requests_total",
				Help:      "Completed forwarding attempts per backend",
			},
			[]string{"backend", "outcome"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "active_connections",
				Help:      "Forwarding attempts currently in flight per backend",
			},
			[]string{"backend"},
		),
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "health_status",
				Help:      "Backend health: 0 healthy, 1 suspected, 2 unhealthy",
			},
			[]string{"backend"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of forwarding attempts per backend",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_requests_total",
				Help:      "Requests turned away before any forwarding attempt",
			},
			[]string{"reason"},
		),
	}

	m.registry.MustRegister(m.requests, m.active, m.health, m.duration, m.rejected)
	return m
}

func (m *promMirror) start(addr string) {
	m.active.WithLabelValues(addr).Inc()
}

func (m *promMirror) end(addr string, success bool, d time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}

	m.active.WithLabelValues(addr).Dec()
	m.requests.WithLabelValues(addr, outcome).Inc()
	m.duration.WithLabelValues(addr).Observe(d.Seconds())
}

func (m *promMirror) reject(reason RejectReason) {
	m.rejected.WithLabelValues(string(reason)).Inc()
}

func (m *promMirror) observeHealth(addr string, status backend.Status) {
	m.health.WithLabelValues(addr).Set(float64(status))
}
