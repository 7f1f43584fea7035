package components

import (
	"sync"
	"time"

	"github.com/ignitionstack/ember/pkg/artifact"
)

// CircuitBreakerManager keeps one circuit breaker per function reference
type CircuitBreakerManager struct {
	circuitBreakers sync.Map

	failureThreshold int
	resetTimeout     time.Duration
}

// NewCircuitBreakerManager creates a manager whose breakers share the given
// settings. A threshold of zero disables every breaker.
func NewCircuitBreakerManager(failureThreshold int, resetTimeout time.Duration) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// Get retrieves the breaker for ref, creating it if it doesn't exist
func (cbm *CircuitBreakerManager) Get(ref artifact.Reference) *CircuitBreaker {
	if cb, exists := cbm.circuitBreakers.Load(ref); exists {
		return cb.(*CircuitBreaker)
	}

	actual, _ := cbm.circuitBreakers.LoadOrStore(ref, NewCircuitBreaker(cbm.failureThreshold, cbm.resetTimeout))
	return actual.(*CircuitBreaker)
}

// Remove drops the breaker for ref
func (cbm *CircuitBreakerManager) Remove(ref artifact.Reference) {
	cbm.circuitBreakers.Delete(ref)
}

// Reset closes every breaker
func (cbm *CircuitBreakerManager) Reset() {
	cbm.circuitBreakers.Range(func(_, value interface{}) bool {
		value.(*CircuitBreaker).Reset()
		return true
	})
}

// States returns a snapshot of every breaker's state keyed by "id@version"
func (cbm *CircuitBreakerManager) States() map[string]string {
	result := make(map[string]string)
	cbm.circuitBreakers.Range(func(key, value interface{}) bool {
		result[key.(artifact.Reference).String()] = value.(*CircuitBreaker).State()
		return true
	})
	return result
}
