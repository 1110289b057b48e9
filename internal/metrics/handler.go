package metrics

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/lbench/internal/strategy"
)

// Render writes one line per backend in registry order. Weighted round-robin
// reports weight and traffic share; every other strategy reports load and
// success rate.
func Render(w io.Writer, snap Snapshot) error {
	for i, b := range snap.Backends {
		var err error
		if snap.Algorithm == strategy.WeightedRoundRobin {
			_, err = fmt.Fprintf(w, "%s: Weight: %d, Requests: %d, Distribution: %.1f%%\n",
				b.Address, b.Weight, b.Total, snap.Distribution(i))
		} else {
			_, err = fmt.Fprintf(w, "%s: Active: %d, Total: %d, Success: %d, Rate: %.1f%%\n",
				b.Address, b.Active, b.Total, b.Success, b.SuccessRate())
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Handler serves the text rendering of a fresh snapshot.
func (a *Aggregator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := Render(&buf, a.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// PrometheusHandler exposes the Prometheus mirror of the aggregator.
func (a *Aggregator) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(a.prom.registry, promhttp.HandlerOpts{})
}
