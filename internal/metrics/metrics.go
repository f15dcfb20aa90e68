package metrics

import (
	"sort"
	"sync"
	"time"
)

type Metrics struct {
	mutex        sync.RWMutex
	resolves     map[string]int64
	cacheHits    int64
	cacheMisses  int64
	attempts     map[string]int64
	failures     map[string]int64
	latencies    map[string][]time.Duration
	failureKinds map[string]map[string]int64
	healthStatus map[string]string
	startTime    time.Time
}

type Snapshot struct {
	TotalResolves int64                      `json:"total_resolves"`
	Uptime        time.Duration              `json:"uptime"`
	CacheHits     int64                      `json:"cache_hits"`
	CacheMisses   int64                      `json:"cache_misses"`
	Operations    map[string]int64           `json:"operations"`
	Providers     map[string]ProviderMetrics `json:"providers"`
}

type ProviderMetrics struct {
	Attempts     int64            `json:"attempts"`
	Failures     int64            `json:"failures"`
	Health       string           `json:"health"`
	AvgLatency   time.Duration    `json:"avg_latency"`
	P50Latency   time.Duration    `json:"p50_latency"`
	P95Latency   time.Duration    `json:"p95_latency"`
	P99Latency   time.Duration    `json:"p99_latency"`
	FailureKinds map[string]int64 `json:"failure_kinds,omitempty"`
}

func (m *Metrics) IncrementResolves(operation string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.resolves[operation]++
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *Metrics) RecordAttempt(providerID string, duration time.Duration, success bool, reason string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.attempts[providerID]++

	if success {
		m.latencies[providerID] = append(m.latencies[providerID], duration)
		if len(m.latencies[providerID]) > 1000 {
			m.latencies[providerID] = m.latencies[providerID][1:]
		}
		return
	}

	m.failures[providerID]++
	if reason != "" {
		if m.failureKinds[providerID] == nil {
			m.failureKinds[providerID] = make(map[string]int64)
		}
		m.failureKinds[providerID][reason]++
	}
}

func (m *Metrics) UpdateHealthStatus(providerID, status string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[providerID] = status
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:      time.Since(m.startTime),
		CacheHits:   m.cacheHits,
		CacheMisses: m.cacheMisses,
		Operations:  make(map[string]int64, len(m.resolves)),
		Providers:   make(map[string]ProviderMetrics),
	}

	for op, count := range m.resolves {
		snap.Operations[op] = count
		snap.TotalResolves += count
	}

	// Collect every provider id seen by any metric
	allProviders := make(map[string]bool)
	for id := range m.attempts {
		allProviders[id] = true
	}
	for id := range m.healthStatus {
		allProviders[id] = true
	}

	for id := range allProviders {
		pm := ProviderMetrics{
			Attempts: m.attempts[id],
			Failures: m.failures[id],
			Health:   m.healthStatus[id],
		}

		// Copy, not alias: the live map keeps mutating after we unlock.
		if kinds := m.failureKinds[id]; len(kinds) > 0 {
			pm.FailureKinds = make(map[string]int64, len(kinds))
			for kind, count := range kinds {
				pm.FailureKinds[kind] = count
			}
		}

		durations := m.latencies[id]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			pm.AvgLatency = average(sorted)
			pm.P50Latency = percentile(sorted, 0.50)
			pm.P95Latency = percentile(sorted, 0.95)
			pm.P99Latency = percentile(sorted, 0.99)
		}

		snap.Providers[id] = pm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		resolves:     make(map[string]int64),
		attempts:     make(map[string]int64),
		failures:     make(map[string]int64),
		latencies:    make(map[string][]time.Duration),
		failureKinds: make(map[string]map[string]int64),
		healthStatus: make(map[string]string),
		startTime:    time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
