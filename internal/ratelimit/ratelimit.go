package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit expresses a provider's request budget over a rolling window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Limiter holds one token bucket per provider. Buckets are created
// lazily; providers without a configured limit get an unlimited bucket,
// so an absent config line can never starve a provider silently.
type Limiter struct {
	mutex   sync.RWMutex
	buckets map[string]*rate.Limiter
	limits  map[string]Limit
}

func NewLimiter(limits map[string]Limit) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*rate.Limiter),
		limits:  make(map[string]Limit, len(limits)),
	}

	for id, limit := range limits {
		if limit.Requests > 0 && limit.Window > 0 {
			l.limits[id] = limit
		}
	}

	return l
}

// TryAdmit consumes one token for the provider if available. It never
// blocks: a false result means "provider unavailable this attempt" and
// callers move on to the next candidate.
func (l *Limiter) TryAdmit(providerID string) bool {
	return l.getBucket(providerID).Allow()
}

func (l *Limiter) getBucket(providerID string) *rate.Limiter {
	l.mutex.RLock()
	bucket, exists := l.buckets[providerID]
	l.mutex.RUnlock()

	if exists {
		return bucket
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists = l.buckets[providerID]; exists {
		return bucket
	}

	if limit, configured := l.limits[providerID]; configured {
		refill := rate.Limit(float64(limit.Requests) / limit.Window.Seconds())
		bucket = rate.NewLimiter(refill, limit.Requests)
	} else {
		bucket = rate.NewLimiter(rate.Inf, 1)
	}

	l.buckets[providerID] = bucket
	return bucket
}
