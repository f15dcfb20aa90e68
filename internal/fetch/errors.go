package fetch

import (
	"context"
	"errors"
)

// Sentinel errors classifying provider failures. Wrapped errors carry
// the provider id and status detail; callers match with errors.Is.
var (
	// ErrCircuitOpen means the provider's breaker short-circuited the
	// request before any network call.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrProviderTimeout is a bounded-timeout expiry on the network
	// call. Retryable, counts toward the breaker.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrProviderServerError covers 5xx responses and connection
	// failures. Retryable, counts toward the breaker.
	ErrProviderServerError = errors.New("provider server error")

	// ErrProviderClientError covers 4xx responses other than 429.
	// Never retried, still counts toward the breaker: a persistent
	// misconfiguration looks the same as an outage to callers.
	ErrProviderClientError = errors.New("provider client error")

	// ErrProviderRateLimited covers 429 responses and local token
	// bucket rejections. Never retried against the provider and never
	// recorded as a breaker failure.
	ErrProviderRateLimited = errors.New("provider rate limited")
)

// IsRetryable reports whether the failure is transient enough to retry
// against the same provider.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderTimeout) || errors.Is(err, ErrProviderServerError)
}

// Reason maps a fetch error to a short failure kind for diagnostics,
// so an exhausted request can tell "everything rate-limited" apart
// from "everything down".
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, ErrProviderServerError):
		return "server_error"
	case errors.Is(err, ErrProviderClientError):
		return "client_error"
	case errors.Is(err, ErrProviderRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
