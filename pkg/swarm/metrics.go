// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import "sync"

// MetricsCollector aggregates run counters from the event stream. Attach it
// to a bus and read a snapshot at any point; it never blocks the emitter.
type MetricsCollector struct {
	mu  sync.Mutex
	m   MetricsSnapshot
	sub *Subscription
}

// MetricsSnapshot is the point-in-time counter set.
type MetricsSnapshot struct {
	Spawns          int     `json:"spawns"`
	Completions     int     `json:"completions"`
	Failures        int     `json:"failures"`
	Skips           int     `json:"skips"`
	Conflicts       int     `json:"conflicts"`
	Writes          int     `json:"writes"`
	RateLimits      int     `json:"rate_limits"`
	BreakerTrips    int     `json:"breaker_trips"`
	DegradedAccepts int     `json:"degraded_accepts"`
	Waves           int     `json:"waves"`
	TokensUsed      int     `json:"tokens_used"`
	CostUSD         float64 `json:"cost_usd"`
}

// NewMetricsCollector subscribes a fresh collector to the bus.
func NewMetricsCollector(bus *EventBus) *MetricsCollector {
	c := &MetricsCollector{}
	c.sub = bus.Subscribe(c.observe)
	return c
}

// Detach unsubscribes from the bus.
func (c *MetricsCollector) Detach() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

func (c *MetricsCollector) observe(e SwarmEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.Type {
	case EventSpawn:
		c.m.Spawns++
	case EventComplete:
		c.m.Completions++
		if p, ok := e.Payload.(*CompletePayload); ok {
			c.m.TokensUsed += p.TokensUsed
			c.m.CostUSD += p.CostUSD
			if p.Degraded {
				c.m.DegradedAccepts++
			}
		}
	case EventFail:
		c.m.Failures++
	case EventSkip:
		c.m.Skips++
	case EventConflict:
		c.m.Conflicts++
	case EventWrite:
		c.m.Writes++
	case EventRateLimit:
		c.m.RateLimits++
	case EventCircuitBreaker:
		if p, ok := e.Payload.(*BreakerPayload); ok && p.Active {
			c.m.BreakerTrips++
		}
	case EventWaveStart:
		c.m.Waves++
	}
}

// Snapshot returns a copy of the counters.
func (c *MetricsCollector) Snapshot() MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}
