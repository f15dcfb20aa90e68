// Package circuitbreaker implements the circuit breaker pattern for
// provider failover.
//
// A circuit breaker stops the engine from hammering a provider that is
// already failing. It has three states:
//
//   - CLOSED: Normal operation, requests pass through
//   - OPEN: Provider failing, requests short-circuited
//   - HALF-OPEN: One trial request testing recovery
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 60*time.Second)
//	cb := registry.GetBreaker("coingecko")
//	if cb.Allow() {
//	    // Make request...
//	    cb.RecordOutcome(err == nil)
//	}
//
// Rate-limit rejections are routine backpressure, not provider
// malfunction, and must never be recorded as outcomes.
package circuitbreaker
