package main

import (
	"net/http"

	"github.com/angeloszaimis/data-aggregator/internal/handler"
	"github.com/angeloszaimis/data-aggregator/internal/metrics"
)

func setupRouter(query *handler.QueryHandler, providerHealth *handler.HealthHandler, collector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /api/v1/{operation}", query)
	mux.Handle("GET /health/providers", providerHealth)
	mux.HandleFunc("GET /metrics", collector.Handler())

	return mux
}
