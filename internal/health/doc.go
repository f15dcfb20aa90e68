// Package health runs the background probe loop that classifies every
// provider as healthy, degraded, or down. Probes go through the fetch
// client so the circuit breaker and rate limiter see them as real
// traffic; the cache is bypassed entirely.
package health
