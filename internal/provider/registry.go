package provider

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Registry holds every configured provider. Providers are registered at
// startup and never removed at runtime; disabled providers are marked
// down, not deleted.
type Registry struct {
	mutex     sync.RWMutex
	providers map[string]*Provider
	order     []*Provider
}

func NewRegistry(providers ...*Provider) *Registry {
	r := &Registry{
		providers: make(map[string]*Provider, len(providers)),
	}

	for _, p := range providers {
		if _, exists := r.providers[p.ID()]; exists {
			continue
		}
		r.providers[p.ID()] = p
		r.order = append(r.order, p)
	}

	return r
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (*Provider, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, exists := r.providers[id]
	if !exists {
		return nil, fmt.Errorf("unknown provider %q", id)
	}

	return p, nil
}

// All returns every registered provider in registration order.
func (r *Registry) All() []*Provider {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return slices.Clone(r.order)
}

// ListCandidates returns the providers able to serve the operation,
// ordered by priority descending with ties broken by lowest observed
// response time. Providers marked down are skipped when excludeDown is
// set; providers without an endpoint for the operation never qualify.
func (r *Registry) ListCandidates(op Operation, excludeDown bool) []*Provider {
	sources := op.Sources()

	r.mutex.RLock()
	candidates := make([]*Provider, 0, len(r.order))
	for _, p := range r.order {
		if !slices.Contains(sources, p.Category()) {
			continue
		}
		if _, ok := p.EndpointPath(op); !ok {
			continue
		}
		if excludeDown && p.Status() == StatusDown {
			continue
		}
		candidates = append(candidates, p)
	}
	r.mutex.RUnlock()

	// Snapshot EWMA once so the sort sees a consistent ordering even
	// while requests keep updating response times.
	ewma := make(map[string]time.Duration, len(candidates))
	for _, p := range candidates {
		ewma[p.ID()] = p.EWMATime()
	}

	slices.SortStableFunc(candidates, func(a, b *Provider) int {
		if a.Priority() != b.Priority() {
			return b.Priority() - a.Priority()
		}
		switch {
		case ewma[a.ID()] < ewma[b.ID()]:
			return -1
		case ewma[a.ID()] > ewma[b.ID()]:
			return 1
		default:
			return 0
		}
	})

	return candidates
}

// UpdateHealth records a health classification for the provider.
// Last write wins; unknown ids are ignored so a stale caller cannot
// grow the registry.
func (r *Registry) UpdateHealth(id string, status HealthStatus, responseTime time.Duration, lastError string) (changed bool) {
	r.mutex.RLock()
	p, exists := r.providers[id]
	r.mutex.RUnlock()

	if !exists {
		return false
	}

	return p.applyHealth(status, responseTime, lastError)
}

// HealthyCount returns how many providers are currently healthy.
func (r *Registry) HealthyCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	count := 0
	for _, p := range r.order {
		if p.Status() == StatusHealthy {
			count++
		}
	}
	return count
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.order)
}
