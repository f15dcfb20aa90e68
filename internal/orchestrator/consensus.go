package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angeloszaimis/data-aggregator/internal/fetch"
	"github.com/angeloszaimis/data-aggregator/internal/provider"
)

type vote struct {
	provider *provider.Provider
	result   *fetch.Result
	value    decimal.Decimal
}

// resolveConsensus queries the top Fanout candidates concurrently and
// cross-checks their values. Agreement within tolerance yields the
// mean; divergence yields the highest-priority value flagged
// inconsistent. Consensus never blocks the response, it only annotates
// it.
func (r *Resolver) resolveConsensus(ctx context.Context, req Request, candidates []*provider.Provider, log *slog.Logger) ([]byte, error) {
	fanout := r.consensus.Fanout
	if fanout > len(candidates) {
		fanout = len(candidates)
	}
	head := candidates[:fanout]

	type outcome struct {
		provider *provider.Provider
		result   *fetch.Result
		err      error
	}

	outcomes := make([]outcome, len(head))
	var wg sync.WaitGroup

	for i, p := range head {
		path, ok := p.EndpointPath(req.Operation)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(i int, p *provider.Provider, path string) {
			defer wg.Done()
			res, err := r.client.Fetch(ctx, p, path, queryParams(req))
			outcomes[i] = outcome{provider: p, result: res, err: err}
		}(i, p, path)
	}

	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var attempts []Attempt
	votes := make([]vote, 0, len(outcomes))

	// Outcomes keep candidate order, so votes stay sorted by priority.
	for _, o := range outcomes {
		if o.provider == nil {
			continue
		}
		if o.err != nil {
			attempts = append(attempts, Attempt{Provider: o.provider.ID(), Reason: fetch.Reason(o.err)})
			continue
		}

		value, err := extractValue(o.result.Payload, o.provider.PriceField())
		if err != nil {
			log.Warn("Provider payload not numeric, excluded from consensus",
				slog.String("provider", o.provider.ID()),
				slog.String("error", err.Error()))
			attempts = append(attempts, Attempt{Provider: o.provider.ID(), Reason: "malformed_payload"})
			continue
		}

		votes = append(votes, vote{provider: o.provider, result: o.result, value: value})
	}

	switch len(votes) {
	case 0:
		// The whole head failed; keep failing over through the rest.
		return r.resolveSequential(ctx, req, candidates[fanout:], attempts, log)
	case 1:
		return marshalResult(votes[0].result.Payload, votes[0].provider.ID(), true, votes[0].result.Timestamp)
	}

	mean, spread := summarize(votes)
	tolerance := mean.Mul(decimal.NewFromFloat(r.consensus.TolerancePercent)).Div(decimal.NewFromInt(100))

	if spread.LessThanOrEqual(tolerance) {
		sources := make([]string, 0, len(votes))
		for _, v := range votes {
			sources = append(sources, v.provider.ID())
		}

		return marshalResult([]byte(mean.String()), strings.Join(sources, ","), true, time.Now())
	}

	top := votes[0]

	log.Warn("Consensus mismatch, using highest-priority provider",
		slog.String("provider", top.provider.ID()),
		slog.String("spread", spread.String()),
		slog.String("tolerance", tolerance.String()))

	return marshalResult(top.result.Payload, top.provider.ID(), false, top.result.Timestamp)
}

// summarize returns the mean of all votes and the max-min spread.
func summarize(votes []vote) (mean, spread decimal.Decimal) {
	sum := decimal.Zero
	min := votes[0].value
	max := votes[0].value

	for _, v := range votes {
		sum = sum.Add(v.value)
		if v.value.LessThan(min) {
			min = v.value
		}
		if v.value.GreaterThan(max) {
			max = v.value
		}
	}

	return sum.Div(decimal.NewFromInt(int64(len(votes)))), max.Sub(min)
}

// extractValue pulls the numeric value out of a provider payload: a
// bare JSON number, a numeric string, or an object carrying the
// provider's configured price field.
func extractValue(payload []byte, field string) (decimal.Decimal, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return decimal.Zero, err
	}

	switch v := parsed.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(v)
	case map[string]any:
		raw, ok := v[field]
		if !ok {
			return decimal.Zero, fmt.Errorf("field %q not found", field)
		}
		switch n := raw.(type) {
		case json.Number:
			return decimal.NewFromString(n.String())
		case string:
			return decimal.NewFromString(n)
		default:
			return decimal.Zero, fmt.Errorf("field %q is not numeric", field)
		}
	default:
		return decimal.Zero, fmt.Errorf("unsupported payload shape %T", parsed)
	}
}
