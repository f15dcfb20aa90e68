// Package fetch performs the actual provider network calls.
//
// Every logical fetch runs through the same gauntlet: circuit breaker
// admission, rate limiter admission, a bounded-timeout HTTP call, and
// retry with exponential backoff and jitter for transient failures.
// The final outcome is recorded into the provider's breaker exactly
// once; rate-limit rejections and caller cancellation are exempt.
//
// The error sentinels in this package are the engine's failure
// taxonomy; the orchestrator and health monitor classify on them.
package fetch
