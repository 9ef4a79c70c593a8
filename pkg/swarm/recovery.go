// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"sync"
	"time"
)

// RecoveryManager holds the run's failure-recovery state: the rate-limit
// sliding window and circuit breaker, the adaptive spawn stagger, per-task
// failure histories for auto-split, per-path conflict streaks, and the
// once-per-run replan latch.
type RecoveryManager struct {
	mu  sync.Mutex
	cfg *SwarmConfig
	bus *EventBus

	rateLimits   []int64 // UnixMilli timestamps
	breakerUntil int64
	staggerMs    int64

	failureHistory map[string][]FailureMode // taskID -> modes, oldest first
	conflictStreak map[string]int           // path -> consecutive conflicts

	replanUsed bool

	now func() time.Time
}

// NewRecoveryManager creates a manager bound to the run config. Events
// (rate_limit, circuit_breaker) go out on bus when non-nil.
func NewRecoveryManager(cfg *SwarmConfig, bus *EventBus) *RecoveryManager {
	return &RecoveryManager{
		cfg:            cfg,
		bus:            bus,
		failureHistory: make(map[string][]FailureMode),
		conflictStreak: make(map[string]int),
		now:            time.Now,
	}
}

// RecordRateLimit appends a rate-limit hit to the sliding window and trips
// the circuit breaker once the window crosses the threshold. Returns true
// if the breaker is (now) active.
func (r *RecoveryManager) RecordRateLimit(model string) bool {
	r.mu.Lock()
	nowMs := r.now().UnixMilli()
	r.rateLimits = append(r.rateLimits, nowMs)
	r.pruneWindowLocked(nowMs)

	tripped := false
	if len(r.rateLimits) >= r.cfg.CircuitBreakerThreshold && nowMs >= r.breakerUntil {
		r.breakerUntil = nowMs + r.cfg.CircuitBreakerPauseMs
		tripped = true
	}
	active := nowMs < r.breakerUntil
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Emit(newEvent(EventRateLimit, "", "", "Rate limit reported", &RateLimitPayload{Model: model}))
		if tripped {
			r.bus.Emit(newEvent(EventCircuitBreaker, "", "", "Circuit breaker tripped", &BreakerPayload{
				Active:  true,
				PauseMs: r.cfg.CircuitBreakerPauseMs,
			}))
		}
	}
	return active
}

func (r *RecoveryManager) pruneWindowLocked(nowMs int64) {
	cutoff := nowMs - r.cfg.CircuitBreakerWindowMs
	keep := r.rateLimits[:0]
	for _, ts := range r.rateLimits {
		if ts >= cutoff {
			keep = append(keep, ts)
		}
	}
	r.rateLimits = keep
}

// BreakerActive reports whether dispatch must pause. Auto-clears after the
// pause elapses.
func (r *RecoveryManager) BreakerActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().UnixMilli() < r.breakerUntil
}

// BreakerRemaining returns how long dispatch must still wait.
func (r *RecoveryManager) BreakerRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := r.breakerUntil - r.now().UnixMilli()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * time.Millisecond
}

// IncreaseStagger doubles the inter-spawn delay up to the configured cap.
func (r *RecoveryManager) IncreaseStagger() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staggerMs == 0 {
		r.staggerMs = DefaultStaggerStepMs
	} else {
		r.staggerMs *= 2
	}
	if r.staggerMs > r.cfg.StaggerCapMs {
		r.staggerMs = r.cfg.StaggerCapMs
	}
}

// DecreaseStagger halves the delay toward zero.
func (r *RecoveryManager) DecreaseStagger() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staggerMs /= 2
	if r.staggerMs < DefaultStaggerStepMs/2 {
		r.staggerMs = 0
	}
}

// CurrentStagger returns the delay applied between sequential spawns.
func (r *RecoveryManager) CurrentStagger() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.staggerMs) * time.Millisecond
}

// RecordFailure appends a failure mode to the task's history.
func (r *RecoveryManager) RecordFailure(taskID string, mode FailureMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureHistory[taskID] = append(r.failureHistory[taskID], mode)
}

// RecordSuccess clears the task's failure history.
func (r *RecoveryManager) RecordSuccess(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failureHistory, taskID)
}

// ShouldAutoSplit reports whether a struggling task should be replaced by
// smaller sub-tasks: retries nearly exhausted, complexity at or above the
// type's split threshold, and the last two attempts failed the same
// splittable way (timeout, context overflow, or generic failure).
func (r *RecoveryManager) ShouldAutoSplit(task *SwarmTask, attempts int) bool {
	tc := r.cfg.TaskTypeConfigFor(task.Type)
	if attempts < tc.RetryLimit-1 {
		return false
	}
	if task.Complexity < tc.AutoSplitComplexity {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.failureHistory[task.ID]
	if len(history) < 2 {
		return false
	}
	for _, mode := range history[len(history)-2:] {
		switch mode {
		case FailureTimeout, FailureContextOverflow, FailureGeneric:
		default:
			return false
		}
	}
	return true
}

// RecordConflict bumps the consecutive-conflict streak for a path and
// reports whether it has escalated (two in a row means the writers should
// be split rather than retried again).
func (r *RecoveryManager) RecordConflict(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflictStreak[path]++
	return r.conflictStreak[path] >= 2
}

// ClearConflict resets the streak after a clean write on the path.
func (r *RecoveryManager) ClearConflict(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conflictStreak, path)
}

// TryReplan claims the once-per-run replan latch. Returns false if a replan
// already happened.
func (r *RecoveryManager) TryReplan() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replanUsed {
		return false
	}
	r.replanUsed = true
	return true
}
