package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/data-aggregator/internal/circuitbreaker"
	"github.com/angeloszaimis/data-aggregator/internal/metrics"
	"github.com/angeloszaimis/data-aggregator/internal/provider"
	"github.com/angeloszaimis/data-aggregator/internal/ratelimit"
)

// Result is the outcome of one successful logical fetch.
type Result struct {
	ProviderID string
	Payload    []byte
	Latency    time.Duration
	Timestamp  time.Time
}

// Config bounds every network attempt the client makes.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:    8 * time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   16 * time.Second,
	}
}

// Client performs provider HTTP calls with breaker and rate-limiter
// admission, bounded timeouts, and retry with exponential backoff.
// All retry behavior lives here so every provider gets identical
// resilience handling.
type Client struct {
	httpClient *http.Client
	registry   *provider.Registry
	breakers   *circuitbreaker.Registry
	limiter    *ratelimit.Limiter
	collector  *metrics.Collector
	cfg        Config
	logger     *slog.Logger
}

func NewClient(registry *provider.Registry, breakers *circuitbreaker.Registry, limiter *ratelimit.Limiter, collector *metrics.Collector, cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			// Per-attempt deadlines come from the request context; the
			// client-level timeout is a hard backstop.
			Timeout: cfg.Timeout + time.Second,
		},
		registry:  registry,
		breakers:  breakers,
		limiter:   limiter,
		collector: collector,
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch performs one logical fetch against the provider: admission
// checks, the network call, and retries for transient failures.
// Exactly one breaker outcome is recorded per logical fetch, after the
// final attempt. Rate-limit rejections and caller cancellation are
// never recorded.
func (c *Client) Fetch(ctx context.Context, p *provider.Provider, path string, query url.Values) (*Result, error) {
	// Limiter first: a rate-limit rejection must never consume the
	// breaker's half-open trial.
	if !c.limiter.TryAdmit(p.ID()) {
		c.logger.Debug("rate limiter rejected request",
			slog.String("provider", p.ID()))
		return nil, fmt.Errorf("%s: %w", p.ID(), ErrProviderRateLimited)
	}

	cb := c.breakers.GetBreaker(p.ID())
	if !cb.Allow() {
		return nil, fmt.Errorf("%s: %w", p.ID(), ErrCircuitOpen)
	}

	var result *Result
	var finalErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.cfg.BaseDelay, c.cfg.MaxDelay)

			c.logger.Debug("retrying provider request",
				slog.String("provider", p.ID()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				// Caller gave up between attempts: not the provider's
				// fault, no outcome recorded.
				cb.CancelTrial()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		result, finalErr = c.do(ctx, p, path, query)
		if finalErr == nil {
			break
		}

		if errors.Is(finalErr, context.Canceled) || errors.Is(finalErr, context.DeadlineExceeded) {
			cb.CancelTrial()
			return nil, finalErr
		}

		if errors.Is(finalErr, ErrProviderRateLimited) {
			// 429 from the provider: routine backpressure, move on to
			// the next candidate without touching the breaker.
			cb.CancelTrial()
			return nil, finalErr
		}

		if !IsRetryable(finalErr) {
			break
		}
	}

	success := finalErr == nil
	cb.RecordOutcome(success)

	if success {
		p.RecordResponse(result.Latency)
		c.emit(metrics.Event{
			Type:      metrics.EventProviderAttempt,
			Timestamp: time.Now(),
			Provider:  p.ID(),
			Duration:  result.Latency,
			Success:   true,
		})
		return result, nil
	}

	if cb.State() == circuitbreaker.StateOpen {
		// Reflect the opened breaker in the registry immediately
		// rather than waiting for the next probe.
		if c.registry.UpdateHealth(p.ID(), provider.StatusDown, 0, finalErr.Error()) {
			c.logger.Warn("provider marked down, circuit open",
				slog.String("provider", p.ID()),
				slog.String("error", finalErr.Error()))
		}
	}

	c.emit(metrics.Event{
		Type:      metrics.EventProviderAttempt,
		Timestamp: time.Now(),
		Provider:  p.ID(),
		Success:   false,
		Reason:    Reason(finalErr),
	})

	return nil, finalErr
}

func (c *Client) do(ctx context.Context, p *provider.Provider, path string, query url.Values) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := p.BaseURL().ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", p.ID(), ErrProviderClientError, err.Error())
	}

	req.Header.Set("Accept", "application/json")
	if cred := p.Credential(); cred != "" {
		req.Header.Set("X-API-Key", cred)
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	latency := time.Since(start)

	if err != nil {
		// Distinguish the caller abandoning the request from the
		// attempt timing out: only the latter is held against the
		// provider.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s after %s: %w", p.ID(), latency.Round(time.Millisecond), ErrProviderTimeout)
		}
		return nil, fmt.Errorf("%s: %w: %s", p.ID(), ErrProviderServerError, err.Error())
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("%s: %w", p.ID(), ErrProviderRateLimited)
	case res.StatusCode >= http.StatusInternalServerError:
		io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("%s: status %d: %w", p.ID(), res.StatusCode, ErrProviderServerError)
	case res.StatusCode >= http.StatusBadRequest:
		io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("%s: status %d: %w", p.ID(), res.StatusCode, ErrProviderClientError)
	}

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: reading body: %w", p.ID(), ErrProviderServerError)
	}

	return &Result{
		ProviderID: p.ID(),
		Payload:    payload,
		Latency:    latency,
		Timestamp:  time.Now(),
	}, nil
}

func (c *Client) emit(event metrics.Event) {
	if c.collector == nil {
		return
	}
	c.collector.TryEmit(event)
}

// backoffDelay is base * 2^attempt capped at max, with ±25% jitter so
// concurrent callers don't retry in lockstep.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base << attempt
	if delay > max || delay <= 0 {
		delay = max
	}

	jittered := float64(delay) * (0.75 + rand.Float64()*0.5)
	return time.Duration(jittered)
}
