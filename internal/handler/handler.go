package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/data-aggregator/internal/circuitbreaker"
	"github.com/angeloszaimis/data-aggregator/internal/orchestrator"
	"github.com/angeloszaimis/data-aggregator/internal/provider"
)

// QueryHandler serves the engine's query API: one GET per logical
// operation, parameters as query string.
type QueryHandler struct {
	logger   *slog.Logger
	resolver *orchestrator.Resolver
}

func NewQueryHandler(logger *slog.Logger, resolver *orchestrator.Resolver) *QueryHandler {
	return &QueryHandler{
		logger:   logger,
		resolver: resolver,
	}
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op, ok := provider.ParseOperation(r.PathValue("operation"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown operation", nil)
		return
	}

	params := make(map[string]string)
	for key := range r.URL.Query() {
		params[key] = r.URL.Query().Get(key)
	}

	h.logger.Info("Received query",
		slog.String("operation", string(op)),
		slog.Any("params", params),
		slog.String("from", r.RemoteAddr))

	start := time.Now()
	result, err := h.resolver.Resolve(r.Context(), orchestrator.Request{
		Operation: op,
		Params:    params,
	})

	if err != nil {
		var exhausted *orchestrator.ExhaustedError
		switch {
		case errors.As(err, &exhausted):
			h.logger.Warn("All providers exhausted",
				slog.String("operation", string(op)),
				slog.Int("attempts", len(exhausted.Attempts)))

			writeError(w, http.StatusBadGateway, "all providers exhausted", exhausted.Attempts)

		case errors.Is(err, context.Canceled):
			// Caller is gone; nothing useful to write.

		default:
			h.logger.Error("Resolve failed",
				slog.String("operation", string(op)),
				slog.String("error", err.Error()))

			writeError(w, http.StatusInternalServerError, "internal error", nil)
		}
		return
	}

	h.logger.Info("Query served",
		slog.String("operation", string(op)),
		slog.String("source", result.SourceProvider),
		slog.Bool("cached", result.Cached),
		slog.Duration("duration", time.Since(start)))

	writeJSON(w, http.StatusOK, result)
}

// HealthHandler serves the provider-health API consumed by external
// monitoring.
type HealthHandler struct {
	registry *provider.Registry
	breakers *circuitbreaker.Registry
}

func NewHealthHandler(registry *provider.Registry, breakers *circuitbreaker.Registry) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		breakers: breakers,
	}
}

type providerHealth struct {
	provider.Snapshot
	CircuitState string `json:"circuit_state"`
}

type healthReport struct {
	Providers    []providerHealth `json:"providers"`
	HealthyCount int              `json:"healthy_count"`
	TotalCount   int              `json:"total_count"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	providers := h.registry.All()

	report := healthReport{
		Providers:  make([]providerHealth, 0, len(providers)),
		TotalCount: len(providers),
	}

	for _, p := range providers {
		snap := p.Snapshot()
		if snap.HealthStatus == provider.StatusHealthy.String() {
			report.HealthyCount++
		}

		report.Providers = append(report.Providers, providerHealth{
			Snapshot:     snap,
			CircuitState: h.breakers.GetBreaker(p.ID()).State().String(),
		})
	}

	writeJSON(w, http.StatusOK, report)
}

type errorBody struct {
	Error    string                 `json:"error"`
	Attempts []orchestrator.Attempt `json:"attempts,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, attempts []orchestrator.Attempt) {
	writeJSON(w, status, errorBody{Error: message, Attempts: attempts})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
