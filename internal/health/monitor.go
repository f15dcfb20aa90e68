package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/data-aggregator/internal/circuitbreaker"
	"github.com/angeloszaimis/data-aggregator/internal/fetch"
	"github.com/angeloszaimis/data-aggregator/internal/metrics"
	"github.com/angeloszaimis/data-aggregator/internal/provider"
)

// Monitor periodically probes every registered provider through the
// fetch client (bypassing the cache) and classifies the result into
// the registry. It is the sole source of proactive health
// classification; request-path failures reach the registry through the
// circuit breaker instead.
type Monitor struct {
	registry        *provider.Registry
	client          *fetch.Client
	breakers        *circuitbreaker.Registry
	collector       *metrics.Collector
	interval        time.Duration
	degradedLatency time.Duration
	logger          *slog.Logger
}

func NewMonitor(registry *provider.Registry, client *fetch.Client, breakers *circuitbreaker.Registry, collector *metrics.Collector, interval, degradedLatency time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		registry:        registry,
		client:          client,
		breakers:        breakers,
		collector:       collector,
		interval:        interval,
		degradedLatency: degradedLatency,
		logger:          logger,
	}
}

// Run probes all providers once immediately, then on every tick until
// the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.probeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return

		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, p := range m.registry.All() {
		if p.ProbePath() == "" {
			// No probe configured: health driven by live traffic only.
			// A down provider has to be readmitted here, because the
			// orchestrator skips down providers and live traffic would
			// never reach it again.
			m.reinstate(p)
			continue
		}

		wg.Add(1)
		go func(p *provider.Provider) {
			defer wg.Done()
			m.probe(ctx, p)
		}(p)
	}

	wg.Wait()
}

// reinstate moves a probe-less down provider back to degraded once its
// breaker would admit a trial, so the next live request can attempt it.
// The breaker still gates that request to a single half-open trial.
func (m *Monitor) reinstate(p *provider.Provider) {
	if p.Status() != provider.StatusDown {
		return
	}

	cb := m.breakers.GetBreaker(p.ID())
	if cb.State() != circuitbreaker.StateClosed && !cb.TrialPending() {
		return
	}

	if m.registry.UpdateHealth(p.ID(), provider.StatusDegraded, 0, "") {
		m.logger.Info("Provider readmitted for live traffic",
			slog.String("provider", p.ID()))

		if m.collector != nil {
			m.collector.TryEmit(metrics.Event{
				Type:      metrics.EventHealthChanged,
				Timestamp: time.Now(),
				Provider:  p.ID(),
				Health:    provider.StatusDegraded.String(),
			})
		}
	}
}

func (m *Monitor) probe(ctx context.Context, p *provider.Provider) {
	result, err := m.client.Fetch(ctx, p, p.ProbePath(), nil)

	var status provider.HealthStatus
	var latency time.Duration
	var lastError string

	switch {
	case err == nil:
		latency = result.Latency
		cb := m.breakers.GetBreaker(p.ID())
		if latency > m.degradedLatency || cb.ConsecutiveFailures() > 0 {
			status = provider.StatusDegraded
		} else {
			status = provider.StatusHealthy
		}

	case errors.Is(err, context.Canceled):
		return

	case errors.Is(err, fetch.ErrProviderRateLimited):
		// The probe lost the token race against live traffic; that
		// says nothing about the provider.
		return

	default:
		status = provider.StatusDown
		lastError = err.Error()
	}

	changed := m.registry.UpdateHealth(p.ID(), status, latency, lastError)

	if changed {
		if status == provider.StatusDown {
			m.logger.Warn("Provider is down",
				slog.String("provider", p.ID()),
				slog.String("error", lastError))
		} else {
			m.logger.Info("Provider health changed",
				slog.String("provider", p.ID()),
				slog.String("status", status.String()),
				slog.Duration("latency", latency))
		}

		if m.collector != nil {
			m.collector.TryEmit(metrics.Event{
				Type:      metrics.EventHealthChanged,
				Timestamp: time.Now(),
				Provider:  p.ID(),
				Health:    status.String(),
			})
		}
	}
}
