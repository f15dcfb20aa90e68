package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/data-aggregator/internal/circuitbreaker"
)

var _ = Describe("CircuitBreaker", func() {
	var cb *circuitbreaker.CircuitBreaker

	Describe("NewCircuitBreaker", func() {
		It("should create a circuit breaker in closed state", func() {
			cb = circuitbreaker.NewCircuitBreaker(5, 60*time.Second)
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.ConsecutiveFailures()).To(Equal(0))
		})
	})

	Describe("State transitions", func() {
		BeforeEach(func() {
			cb = circuitbreaker.NewCircuitBreaker(3, 100*time.Millisecond)
		})

		Context("when in CLOSED state", func() {
			It("should allow requests", func() {
				Expect(cb.Allow()).To(BeTrue())
			})

			It("should remain closed after failures below threshold", func() {
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
				Expect(cb.Allow()).To(BeTrue())
			})

			It("should transition to OPEN exactly at the failure threshold", func() {
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
				cb.RecordOutcome(false)
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should record when the circuit opened", func() {
				before := time.Now()
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				Expect(cb.OpenedAt()).To(BeTemporally(">=", before))
			})
		})

		Context("when in OPEN state", func() {
			BeforeEach(func() {
				// Trip the circuit
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should block requests", func() {
				Expect(cb.Allow()).To(BeFalse())
			})

			It("should remain OPEN before the recovery timeout expires", func() {
				time.Sleep(50 * time.Millisecond)
				Expect(cb.Allow()).To(BeFalse())
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should transition to HALF-OPEN after the recovery timeout", func() {
				time.Sleep(150 * time.Millisecond)
				Expect(cb.Allow()).To(BeTrue())
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})
		})

		Context("when in HALF-OPEN state", func() {
			BeforeEach(func() {
				// Trip the circuit
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				// Wait for timeout, then take the trial slot
				time.Sleep(150 * time.Millisecond)
				Expect(cb.Allow()).To(BeTrue())
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})

			It("should reject further requests while the trial is out", func() {
				Expect(cb.Allow()).To(BeFalse())
				Expect(cb.Allow()).To(BeFalse())
			})

			It("should transition to CLOSED on trial success", func() {
				cb.RecordOutcome(true)
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
				Expect(cb.ConsecutiveFailures()).To(Equal(0))
			})

			It("should transition back to OPEN with a fresh opened_at on trial failure", func() {
				openedBefore := cb.OpenedAt()
				time.Sleep(5 * time.Millisecond)
				cb.RecordOutcome(false)
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
				Expect(cb.OpenedAt()).To(BeTemporally(">", openedBefore))
			})

			It("should hand the trial out again after CancelTrial", func() {
				openedBefore := cb.OpenedAt()
				cb.CancelTrial()
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
				Expect(cb.OpenedAt()).To(Equal(openedBefore))

				// The recovery window already elapsed, so the next caller
				// gets the trial immediately instead of waiting again.
				Expect(cb.Allow()).To(BeTrue())
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))

				cb.RecordOutcome(true)
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			})
		})

		Context("with concurrent callers at the recovery instant", func() {
			It("should hand out exactly one half-open trial", func() {
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				cb.RecordOutcome(false)
				time.Sleep(150 * time.Millisecond)

				const goroutines = 50
				var wg sync.WaitGroup
				var mu sync.Mutex
				allowed := 0

				wg.Add(goroutines)
				for i := 0; i < goroutines; i++ {
					go func() {
						defer wg.Done()
						if cb.Allow() {
							mu.Lock()
							allowed++
							mu.Unlock()
						}
					}()
				}
				wg.Wait()

				Expect(allowed).To(Equal(1))
			})
		})
	})

	Describe("CancelTrial", func() {
		BeforeEach(func() {
			cb = circuitbreaker.NewCircuitBreaker(3, 100*time.Millisecond)
		})

		It("should be a no-op in CLOSED state", func() {
			cb.CancelTrial()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should be a no-op in OPEN state before the recovery timeout", func() {
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)

			cb.CancelTrial()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			Expect(cb.Allow()).To(BeFalse())
		})
	})

	Describe("TrialPending", func() {
		BeforeEach(func() {
			cb = circuitbreaker.NewCircuitBreaker(3, 100*time.Millisecond)
		})

		It("should be false while closed", func() {
			Expect(cb.TrialPending()).To(BeFalse())
		})

		It("should turn true once the recovery window elapses", func() {
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)
			Expect(cb.TrialPending()).To(BeFalse())

			time.Sleep(150 * time.Millisecond)
			Expect(cb.TrialPending()).To(BeTrue())

			// Reading must not consume the trial.
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should be false while the trial is out", func() {
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)
			time.Sleep(150 * time.Millisecond)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.TrialPending()).To(BeFalse())
		})
	})

	Describe("RecordOutcome", func() {
		BeforeEach(func() {
			cb = circuitbreaker.NewCircuitBreaker(3, 100*time.Millisecond)
		})

		It("should reset the failure streak on success", func() {
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)
			cb.RecordOutcome(true)
			Expect(cb.ConsecutiveFailures()).To(Equal(0))

			// A single further failure must not open the circuit
			cb.RecordOutcome(false)
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should close the circuit from half-open on success", func() {
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)
			cb.RecordOutcome(false)
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			time.Sleep(150 * time.Millisecond)
			Expect(cb.Allow()).To(BeTrue())

			cb.RecordOutcome(true)
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Describe("State.String", func() {
		It("should return correct string representation", func() {
			Expect(circuitbreaker.StateClosed.String()).To(Equal("CLOSED"))
			Expect(circuitbreaker.StateOpen.String()).To(Equal("OPEN"))
			Expect(circuitbreaker.StateHalfOpen.String()).To(Equal("HALF-OPEN"))
		})
	})
})
