package components

import (
	"sync"
	"sync/atomic"
	"time"
)

// Circuit breaker states as constants
const (
	stateClosed   = 0
	stateHalfOpen = 1
	stateOpen     = 2
)

// CircuitBreaker stops calls to a function after a run of consecutive
// failures and lets a single trial call through once the reset timeout has
// passed. A threshold of zero disables it.
type CircuitBreaker struct {
	failures         int32
	lastFailure      atomic.Int64
	state            int32
	trialInFlight    atomic.Bool
	failureThreshold int32
	resetTimeout     time.Duration
	now              func() time.Time
	mutex            sync.Mutex
}

// NewCircuitBreaker creates a circuit breaker with the given settings.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: int32(failureThreshold),
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

func (cb *CircuitBreaker) disabled() bool {
	return cb.failureThreshold <= 0
}

// Allow reports whether a call may proceed. An open breaker whose reset
// timeout has expired moves to half-open and admits exactly one trial call.
func (cb *CircuitBreaker) Allow() bool {
	if cb.disabled() {
		return true
	}

	switch atomic.LoadInt32(&cb.state) {
	case stateClosed:
		return true
	case stateHalfOpen:
		return cb.trialInFlight.CompareAndSwap(false, true)
	}

	last := time.Unix(0, cb.lastFailure.Load())
	if cb.now().Sub(last) <= cb.resetTimeout {
		return false
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if atomic.LoadInt32(&cb.state) == stateOpen {
		atomic.StoreInt32(&cb.state, stateHalfOpen)
		cb.trialInFlight.Store(false)
	}
	return cb.trialInFlight.CompareAndSwap(false, true)
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb.disabled() {
		return
	}
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.state, stateClosed)
	cb.trialInFlight.Store(false)
}

// RecordFailure records a failed call. It returns true if the breaker is now
// open. A failed trial call reopens the breaker immediately.
func (cb *CircuitBreaker) RecordFailure() bool {
	if cb.disabled() {
		return false
	}
	newCount := atomic.AddInt32(&cb.failures, 1)
	cb.lastFailure.Store(cb.now().UnixNano())

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch atomic.LoadInt32(&cb.state) {
	case stateHalfOpen:
		atomic.StoreInt32(&cb.state, stateOpen)
		cb.trialInFlight.Store(false)
	case stateClosed:
		if newCount >= cb.failureThreshold {
			atomic.StoreInt32(&cb.state, stateOpen)
		}
	}
	return atomic.LoadInt32(&cb.state) == stateOpen
}

// Reset resets the circuit breaker to its initial closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.state, stateClosed)
	cb.trialInFlight.Store(false)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() string {
	switch atomic.LoadInt32(&cb.state) {
	case stateClosed:
		return "closed"
	case stateHalfOpen:
		return "half-open"
	case stateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// FailureCount returns the number of consecutive failures.
func (cb *CircuitBreaker) FailureCount() int {
	return int(atomic.LoadInt32(&cb.failures))
}
