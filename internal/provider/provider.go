package provider

import (
	"net/url"
	"sync"
	"time"
)

// Category classifies what kind of external source a provider is.
type Category string

const (
	CategoryExchange   Category = "exchange"
	CategoryAggregator Category = "aggregator"
	CategoryOnChain    Category = "onchain"
	CategorySentiment  Category = "sentiment"
)

// Operation names a logical data request the engine can resolve.
type Operation string

const (
	OperationPrice     Operation = "price"
	OperationMarket    Operation = "market"
	OperationOnChain   Operation = "onchain"
	OperationSentiment Operation = "sentiment"
)

// Sources returns the provider categories able to serve the operation.
func (o Operation) Sources() []Category {
	switch o {
	case OperationPrice:
		return []Category{CategoryExchange, CategoryAggregator}
	case OperationMarket:
		return []Category{CategoryAggregator}
	case OperationOnChain:
		return []Category{CategoryOnChain}
	case OperationSentiment:
		return []Category{CategorySentiment}
	default:
		return nil
	}
}

// ParseOperation validates a caller-supplied operation name.
func ParseOperation(s string) (Operation, bool) {
	switch op := Operation(s); op {
	case OperationPrice, OperationMarket, OperationOnChain, OperationSentiment:
		return op, true
	default:
		return "", false
	}
}

// ParseCategory validates a configured provider category.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryExchange, CategoryAggregator, CategoryOnChain, CategorySentiment:
		return c, true
	default:
		return "", false
	}
}

// HealthStatus is the registry's view of a provider's availability.
type HealthStatus int

const (
	StatusUnknown HealthStatus = iota
	StatusHealthy
	StatusDegraded
	StatusDown
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// Available reports whether the provider may be tried for live traffic.
func (s HealthStatus) Available() bool {
	return s != StatusDown
}

// Provider represents an external data source with immutable identity
// fields and mutable health state. Health fields are mutex-guarded;
// identity fields are set at construction and read without locking.
type Provider struct {
	id         string
	name       string
	category   Category
	priority   int
	baseURL    *url.URL
	probePath  string
	priceField string
	endpoints  map[Operation]string
	credential string

	mutex            sync.Mutex
	status           HealthStatus
	lastCheck        time.Time
	lastError        string
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// Options carries the optional identity fields of a provider.
type Options struct {
	ProbePath  string
	PriceField string
	Credential string
	Endpoints  map[Operation]string
}

// New creates a Provider. Providers start with unknown health until the
// first probe or real request classifies them.
func New(id, name string, category Category, priority int, baseURL *url.URL, opts Options) *Provider {
	priceField := opts.PriceField
	if priceField == "" {
		priceField = "price"
	}

	return &Provider{
		id:         id,
		name:       name,
		category:   category,
		priority:   priority,
		baseURL:    baseURL,
		probePath:  opts.ProbePath,
		priceField: priceField,
		credential: opts.Credential,
		endpoints:  opts.Endpoints,
		status:     StatusUnknown,
	}
}

func (p *Provider) ID() string         { return p.id }
func (p *Provider) Name() string       { return p.name }
func (p *Provider) Category() Category { return p.category }
func (p *Provider) Priority() int      { return p.priority }
func (p *Provider) BaseURL() *url.URL  { return p.baseURL }
func (p *Provider) ProbePath() string  { return p.probePath }

// PriceField is the JSON field holding the numeric value in this
// provider's price responses.
func (p *Provider) PriceField() string { return p.priceField }

// Credential returns the resolved credential handle, empty when the
// provider needs no authentication.
func (p *Provider) Credential() string { return p.credential }

// EndpointPath returns the request path serving the given operation.
func (p *Provider) EndpointPath(op Operation) (string, bool) {
	path, ok := p.endpoints[op]
	return path, ok
}

// Status returns the provider's current health classification.
func (p *Provider) Status() HealthStatus {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.status
}

// SetStatus updates the health classification.
// Returns true if the status changed, false if it was already in that state.
func (p *Provider) SetStatus(status HealthStatus) (changed bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.status == status {
		return false
	}

	p.status = status
	return true
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// response time using the latest observed request duration.
func (p *Provider) RecordResponse(duration time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.hasEWMA {
		p.ewmaResponseTime = duration
		p.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	p.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(p.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the exponentially weighted moving average response time.
// Returns 0 if no responses have been recorded yet.
func (p *Provider) EWMATime() time.Duration {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.hasEWMA {
		return 0
	}

	return p.ewmaResponseTime
}

// Snapshot is a point-in-time copy of a provider's health state, safe to
// serialize for the health API.
type Snapshot struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Category         Category      `json:"category"`
	Priority         int           `json:"priority"`
	HealthStatus     string        `json:"health_status"`
	LastCheck        time.Time     `json:"last_check"`
	LastResponseTime time.Duration `json:"last_response_time"`
	LastError        string        `json:"last_error,omitempty"`
}

// Snapshot returns a copy of the provider's current state.
func (p *Provider) Snapshot() Snapshot {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return Snapshot{
		ID:               p.id,
		Name:             p.name,
		Category:         p.category,
		Priority:         p.priority,
		HealthStatus:     p.status.String(),
		LastCheck:        p.lastCheck,
		LastResponseTime: p.ewmaResponseTime,
		LastError:        p.lastError,
	}
}

func (p *Provider) applyHealth(status HealthStatus, responseTime time.Duration, lastError string) (changed bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	changed = p.status != status
	p.status = status
	p.lastCheck = time.Now()
	p.lastError = lastError

	if responseTime > 0 {
		if !p.hasEWMA {
			p.ewmaResponseTime = responseTime
			p.hasEWMA = true
		} else {
			p.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(p.ewmaResponseTime) + ewmaAlpha*float64(responseTime))
		}
	}

	return changed
}
