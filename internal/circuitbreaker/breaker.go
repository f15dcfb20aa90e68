package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Single trial request in flight
)

type CircuitBreaker struct {
	mutex               sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	failureThreshold    int
	recoveryTimeout     time.Duration
}

func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		recoveryTimeout:  timeout,
	}
}

// Allow reports whether a real request may be sent to the provider.
// After the recovery timeout an open breaker hands out exactly one
// half-open trial; concurrent callers in that instant are rejected
// until the trial's outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			return true
		}

		return false
	case StateHalfOpen:
		// The single trial is already out.
		return false
	default:
		return true
	}
}

// CancelTrial returns an unconsumed half-open trial. Callers that take
// the trial via Allow but never reach the provider (rate limited,
// caller cancelled) must hand it back instead of recording an outcome,
// otherwise the breaker would wait forever for a result that is not
// coming. The original openedAt is kept, so the next Allow can hand the
// trial out again immediately.
func (cb *CircuitBreaker) CancelTrial() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
	}
}

// RecordOutcome records the result of a real fetch attempt. It must
// never be called for cache hits or rate-limit rejections; attempts
// that never reached the provider go through CancelTrial instead.
func (cb *CircuitBreaker) RecordOutcome(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if success {
		cb.consecutiveFailures = 0
		cb.state = StateClosed
		return
	}

	cb.consecutiveFailures++

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
	case StateClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.consecutiveFailures
}

// TrialPending reports whether the recovery window has elapsed, i.e.
// the next Allow would hand out a half-open trial. Read-only; the
// state transition itself stays in Allow.
func (cb *CircuitBreaker) TrialPending() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state == StateOpen && time.Since(cb.openedAt) >= cb.recoveryTimeout
}

// OpenedAt returns when the breaker last opened. Zero unless the
// breaker has opened at least once.
func (cb *CircuitBreaker) OpenedAt() time.Time {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.openedAt
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}
