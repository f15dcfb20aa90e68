package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventResolveCompleted EventType = "resolve_completed"
	EventProviderAttempt  EventType = "provider_attempt"
	EventCacheLookup      EventType = "cache_lookup"
	EventHealthChanged    EventType = "health_changed"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Provider  string
	Operation string
	Duration  time.Duration
	Success   bool
	Cached    bool
	Reason    string
	Health    string
}

type Collector struct {
	eventCh chan Event
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan Event, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// TryEmit queues the event without blocking. Events are dropped when
// the buffer is full; metrics are advisory, requests are not.
func (c *Collector) TryEmit(event Event) {
	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event Event) {
	switch event.Type {
	case EventResolveCompleted:
		c.metrics.IncrementResolves(event.Operation)

	case EventProviderAttempt:
		c.metrics.RecordAttempt(event.Provider, event.Duration, event.Success, event.Reason)

	case EventCacheLookup:
		c.metrics.RecordCacheLookup(event.Cached)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Provider, event.Health)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}
