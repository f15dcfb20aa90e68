package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/data-aggregator/internal/cache"
	"github.com/angeloszaimis/data-aggregator/internal/fetch"
	"github.com/angeloszaimis/data-aggregator/internal/metrics"
	"github.com/angeloszaimis/data-aggregator/internal/provider"
)

// Request is a logical data request: an operation plus canonical
// parameters (symbol, quote currency, ...).
type Request struct {
	Operation provider.Operation
	Params    map[string]string
}

// Fingerprint returns the normalized cache key for the request, e.g.
// "price:quote=USD:symbol=BTC". Parameter order never affects the key.
func (r Request) Fingerprint() string {
	parts := make([]string, 0, len(r.Params))
	for key, value := range r.Params {
		parts = append(parts, key+"="+value)
	}
	sort.Strings(parts)

	return string(r.Operation) + ":" + strings.Join(parts, ":")
}

// Result is what callers receive from Resolve.
type Result struct {
	Value          json.RawMessage `json:"value"`
	SourceProvider string          `json:"source_provider"`
	Cached         bool            `json:"cached"`
	Consistent     bool            `json:"consistent"`
	RequestID      string          `json:"request_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Attempt records why one candidate failed, for the exhaustion error.
type Attempt struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// ExhaustedError is the only provider-level failure that reaches
// callers: every candidate was tried (or skipped as down) and none
// produced a value.
type ExhaustedError struct {
	Operation provider.Operation `json:"operation"`
	Attempts  []Attempt          `json:"attempts"`
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no providers configured for %s", e.Operation)
	}

	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, a.Provider+": "+a.Reason)
	}

	return fmt.Sprintf("all providers exhausted for %s: %s", e.Operation, strings.Join(reasons, "; "))
}

// ConsensusConfig enables cross-provider validation for the listed
// operations: the top Fanout candidates are queried concurrently and
// their values must agree within TolerancePercent.
type ConsensusConfig struct {
	Operations       []provider.Operation
	Fanout           int
	TolerancePercent float64
}

const defaultTTL = 60 * time.Second

// Resolver is the engine's entry point: cache first, then ordered
// failover across candidate providers.
type Resolver struct {
	registry  *provider.Registry
	cache     *cache.Cache
	client    *fetch.Client
	collector *metrics.Collector
	ttls      map[provider.Operation]time.Duration
	consensus ConsensusConfig
	logger    *slog.Logger
}

func NewResolver(registry *provider.Registry, c *cache.Cache, client *fetch.Client, collector *metrics.Collector, ttls map[provider.Operation]time.Duration, consensus ConsensusConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		registry:  registry,
		cache:     c,
		client:    client,
		collector: collector,
		ttls:      ttls,
		consensus: consensus,
		logger:    logger,
	}
}

// Resolve returns the value for the request, from cache when valid,
// otherwise by walking candidate providers in priority order.
// Transient provider failures never surface; only ExhaustedError does.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	requestID := uuid.NewString()
	fingerprint := req.Fingerprint()

	log := r.logger.With(
		slog.String("request_id", requestID),
		slog.String("fingerprint", fingerprint))

	payload, cached, err := r.cache.GetOrFetch(ctx, fingerprint, r.ttlFor(req.Operation), func(ctx context.Context) ([]byte, error) {
		return r.fetchFresh(ctx, req, log)
	})

	r.emit(metrics.Event{
		Type:      metrics.EventCacheLookup,
		Timestamp: time.Now(),
		Operation: string(req.Operation),
		Cached:    cached,
	})

	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		// A corrupt cache entry degrades to a fresh fetch, never to a
		// failed request.
		log.Warn("corrupt cache entry, fetching fresh",
			slog.String("error", err.Error()))

		payload, err = r.fetchFresh(ctx, req, log)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}

		// Replace the corrupt entry, otherwise it keeps winning lookups
		// until its TTL expires and every request refetches upstream.
		r.cache.Set(ctx, fingerprint, payload, r.ttlFor(req.Operation))
		cached = false
	}

	result.Cached = cached
	result.RequestID = requestID

	r.emit(metrics.Event{
		Type:      metrics.EventResolveCompleted,
		Timestamp: time.Now(),
		Operation: string(req.Operation),
		Cached:    cached,
	})

	return &result, nil
}

func (r *Resolver) fetchFresh(ctx context.Context, req Request, log *slog.Logger) ([]byte, error) {
	candidates := r.registry.ListCandidates(req.Operation, true)
	if len(candidates) == 0 {
		return nil, r.exhaustedWithoutAttempt(req)
	}

	if r.consensusEnabled(req.Operation) && len(candidates) >= 2 {
		return r.resolveConsensus(ctx, req, candidates, log)
	}

	return r.resolveSequential(ctx, req, candidates, nil, log)
}

// resolveSequential walks the candidates in order, returning the first
// success and moving on without delay after any failure.
func (r *Resolver) resolveSequential(ctx context.Context, req Request, candidates []*provider.Provider, prior []Attempt, log *slog.Logger) ([]byte, error) {
	attempts := prior

	for _, p := range candidates {
		path, ok := p.EndpointPath(req.Operation)
		if !ok {
			continue
		}

		res, err := r.client.Fetch(ctx, p, path, queryParams(req))
		if err == nil {
			log.Info("Request resolved",
				slog.String("provider", p.ID()),
				slog.Duration("latency", res.Latency))

			return marshalResult(res.Payload, p.ID(), true, res.Timestamp)
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		attempts = append(attempts, Attempt{Provider: p.ID(), Reason: fetch.Reason(err)})

		log.Warn("Provider attempt failed, trying next candidate",
			slog.String("provider", p.ID()),
			slog.String("reason", fetch.Reason(err)))
	}

	return nil, &ExhaustedError{Operation: req.Operation, Attempts: attempts}
}

// exhaustedWithoutAttempt builds the terminal error for the case where
// every configured provider is down and no network call is made.
func (r *Resolver) exhaustedWithoutAttempt(req Request) error {
	all := r.registry.ListCandidates(req.Operation, false)

	attempts := make([]Attempt, 0, len(all))
	for _, p := range all {
		attempts = append(attempts, Attempt{Provider: p.ID(), Reason: "down"})
	}

	return &ExhaustedError{Operation: req.Operation, Attempts: attempts}
}

func (r *Resolver) consensusEnabled(op provider.Operation) bool {
	if r.consensus.Fanout < 2 {
		return false
	}
	for _, enabled := range r.consensus.Operations {
		if enabled == op {
			return true
		}
	}
	return false
}

func (r *Resolver) ttlFor(op provider.Operation) time.Duration {
	if ttl, ok := r.ttls[op]; ok && ttl > 0 {
		return ttl
	}
	return defaultTTL
}

func (r *Resolver) emit(event metrics.Event) {
	if r.collector == nil {
		return
	}
	r.collector.TryEmit(event)
}

func queryParams(req Request) url.Values {
	query := make(url.Values, len(req.Params))
	for key, value := range req.Params {
		query.Set(key, value)
	}
	return query
}

func marshalResult(value []byte, source string, consistent bool, timestamp time.Time) ([]byte, error) {
	if !json.Valid(value) {
		// Non-JSON provider payloads are carried as a JSON string.
		quoted, err := json.Marshal(string(value))
		if err != nil {
			return nil, err
		}
		value = quoted
	}

	return json.Marshal(Result{
		Value:          value,
		SourceProvider: source,
		Consistent:     consistent,
		Timestamp:      timestamp,
	})
}
