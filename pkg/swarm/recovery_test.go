// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recoveryFixture() (*RecoveryManager, *EventBus, *time.Time) {
	cfg := DefaultSwarmConfig()
	bus := NewEventBus()
	r := NewRecoveryManager(&cfg, bus)
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }
	return r, bus, &now
}

func TestBreakerTripsOnThreshold(t *testing.T) {
	r, bus, now := recoveryFixture()

	assert.False(t, r.RecordRateLimit("m"))
	*now = now.Add(5 * time.Second)
	assert.False(t, r.RecordRateLimit("m"))
	*now = now.Add(5 * time.Second)
	assert.True(t, r.RecordRateLimit("m"), "third hit in window trips the breaker")
	assert.True(t, r.BreakerActive())

	breakers := eventsOfType(bus.History(), EventCircuitBreaker)
	require.Len(t, breakers, 1)
	assert.Len(t, eventsOfType(bus.History(), EventRateLimit), 3)
}

func TestBreakerWindowSlides(t *testing.T) {
	r, _, now := recoveryFixture()

	r.RecordRateLimit("m")
	r.RecordRateLimit("m")
	// The first two fall out of the 30s window before the third arrives.
	*now = now.Add(31 * time.Second)
	assert.False(t, r.RecordRateLimit("m"))
	assert.False(t, r.BreakerActive())
}

func TestBreakerAutoClears(t *testing.T) {
	r, _, now := recoveryFixture()
	for i := 0; i < 3; i++ {
		r.RecordRateLimit("m")
	}
	require.True(t, r.BreakerActive())
	assert.Greater(t, r.BreakerRemaining(), time.Duration(0))

	*now = now.Add(16 * time.Second)
	assert.False(t, r.BreakerActive())
	assert.Zero(t, r.BreakerRemaining())
}

func TestStaggerDoublesAndHalves(t *testing.T) {
	r, _, _ := recoveryFixture()
	assert.Zero(t, r.CurrentStagger())

	r.IncreaseStagger()
	assert.Equal(t, time.Duration(DefaultStaggerStepMs)*time.Millisecond, r.CurrentStagger())

	for i := 0; i < 10; i++ {
		r.IncreaseStagger()
	}
	assert.Equal(t, time.Duration(DefaultStaggerCapMs)*time.Millisecond, r.CurrentStagger(), "capped")

	for i := 0; i < 20; i++ {
		r.DecreaseStagger()
	}
	assert.Zero(t, r.CurrentStagger())
}

func TestShouldAutoSplit(t *testing.T) {
	r, _, _ := recoveryFixture()
	big := NewSwarmTask(TaskImplement, "big task")
	big.Complexity = 4

	t.Run("needs two consecutive splittable failures", func(t *testing.T) {
		assert.False(t, r.ShouldAutoSplit(big, 2))
		r.RecordFailure(big.ID, FailureTimeout)
		assert.False(t, r.ShouldAutoSplit(big, 2))
		r.RecordFailure(big.ID, FailureTimeout)
		assert.True(t, r.ShouldAutoSplit(big, 2))
	})

	t.Run("attempts below threshold", func(t *testing.T) {
		// implement retryLimit 2: attempts must be >= 1.
		assert.False(t, r.ShouldAutoSplit(big, 0))
	})

	t.Run("low complexity never splits", func(t *testing.T) {
		small := NewSwarmTask(TaskImplement, "small task")
		small.Complexity = 2
		r.RecordFailure(small.ID, FailureTimeout)
		r.RecordFailure(small.ID, FailureTimeout)
		assert.False(t, r.ShouldAutoSplit(small, 2))
	})

	t.Run("non-splittable failure mode", func(t *testing.T) {
		other := NewSwarmTask(TaskImplement, "other task")
		other.Complexity = 5
		r.RecordFailure(other.ID, FailureTimeout)
		r.RecordFailure(other.ID, FailureRateLimit)
		assert.False(t, r.ShouldAutoSplit(other, 2))
	})

	t.Run("success clears history", func(t *testing.T) {
		r.RecordSuccess(big.ID)
		assert.False(t, r.ShouldAutoSplit(big, 2))
	})
}

func TestConflictStreakEscalation(t *testing.T) {
	r, _, _ := recoveryFixture()
	assert.False(t, r.RecordConflict("y.py"))
	assert.True(t, r.RecordConflict("y.py"), "two consecutive conflicts escalate")

	r.ClearConflict("y.py")
	assert.False(t, r.RecordConflict("y.py"))
}

func TestReplanLatchOnce(t *testing.T) {
	r, _, _ := recoveryFixture()
	assert.True(t, r.TryReplan())
	assert.False(t, r.TryReplan())
}
