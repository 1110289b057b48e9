package main

import (
	"net/http"

	"github.com/angeloszaimis/lbench/internal/handler"
	"github.com/angeloszaimis/lbench/internal/metrics"
)

func setupRouter(router *handler.Router, agg *metrics.Aggregator) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", router)
	mux.Handle("GET /metrics", agg.Handler())
	mux.Handle("GET /metrics/prometheus", agg.PrometheusHandler())

	return mux
}
