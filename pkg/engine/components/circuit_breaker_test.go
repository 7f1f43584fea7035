package components

import (
	"testing"
	"time"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(3, 10*time.Second)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.Allow())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.Allow())

	// after the reset timeout exactly one trial call is admitted
	now = now.Add(11 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, "half-open", cb.State())
	assert.False(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
	assert.Equal(t, 0, cb.FailureCount())
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerFailedTrialReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.RecordFailure())
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())

	assert.True(t, cb.RecordFailure())
	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Second)

	cb.RecordFailure()
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure())
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(0, time.Second)
	for i := 0; i < 10; i++ {
		assert.False(t, cb.RecordFailure())
	}
	assert.True(t, cb.Allow())
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreakerManager(t *testing.T) {
	cbm := NewCircuitBreakerManager(1, time.Minute)
	echo := artifact.Reference{ID: "echo", Version: "v1"}
	other := artifact.Reference{ID: "other", Version: "v1"}

	assert.Same(t, cbm.Get(echo), cbm.Get(echo))

	cbm.Get(echo).RecordFailure()
	cbm.Get(other)

	assert.Equal(t, map[string]string{"echo@v1": "open", "other@v1": "closed"}, cbm.States())

	cbm.Reset()
	assert.Equal(t, "closed", cbm.Get(echo).State())

	cbm.Remove(echo)
	assert.NotContains(t, cbm.States(), "echo@v1")
}
