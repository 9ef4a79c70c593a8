// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"sync"
	"time"
)

// BudgetPool divides one parent token budget among child workers. A reserve
// slice stays with the parent for synthesis; the rest is the child pool.
// Each allocation reserves a per-child cap up front and refunds the unused
// remainder on release, so tokens are conserved:
//
//	reserved + used + outstanding + available == parent total
//
// at every snapshot.
type BudgetPool struct {
	mu sync.Mutex

	parentTotal int
	reserved    int
	childPool   int
	available   int

	maxPerChild   int
	minAllocation int
	multipliers   map[BudgetPriority]float64

	expectedChildren int
	allocations      map[string]*BudgetAllocation // workerID -> allocation
}

// BudgetPoolStats is a consistent snapshot of the pool.
type BudgetPoolStats struct {
	ParentTotal int `json:"parent_total"`
	Reserved    int `json:"reserved"`
	ChildPool   int `json:"child_pool"`
	Used        int `json:"used"`
	Outstanding int `json:"outstanding"` // reserved by in-flight children, not yet spent
	Available   int `json:"available"`

	ActiveAllocations int `json:"active_allocations"`
	TotalAllocations  int `json:"total_allocations"`
}

// BudgetSnapshot is the serializable pool state for checkpoints.
type BudgetSnapshot struct {
	ParentTotal      int                          `json:"parent_total"`
	Reserved         int                          `json:"reserved"`
	Available        int                          `json:"available"`
	ExpectedChildren int                          `json:"expected_children"`
	Allocations      map[string]*BudgetAllocation `json:"allocations"`
}

// NewBudgetPool creates a pool from the budget configuration.
func NewBudgetPool(cfg BudgetConfig) *BudgetPool {
	reservePercent := cfg.ReservePercent
	if reservePercent <= 0 || reservePercent >= 1 {
		reservePercent = DefaultReservePercent
	}
	minAlloc := cfg.MinAllocation
	if minAlloc <= 0 {
		minAlloc = DefaultMinAllocation
	}
	multipliers := cfg.PriorityMultipliers
	if len(multipliers) == 0 {
		multipliers = map[BudgetPriority]float64{
			PriorityCritical: 1.5,
			PriorityHigh:     1.25,
			PriorityNormal:   1.0,
			PriorityLow:      0.75,
		}
	}

	reserved := int(float64(cfg.ParentTotal) * reservePercent)
	childPool := cfg.ParentTotal - reserved

	maxPerChild := cfg.MaxPerChild
	if maxPerChild <= 0 || maxPerChild > childPool {
		maxPerChild = childPool
	}

	return &BudgetPool{
		parentTotal:      cfg.ParentTotal,
		reserved:         reserved,
		childPool:        childPool,
		available:        childPool,
		maxPerChild:      maxPerChild,
		minAllocation:    minAlloc,
		multipliers:      multipliers,
		expectedChildren: 1,
		allocations:      make(map[string]*BudgetAllocation),
	}
}

// SetExpectedChildren sets the fair-share divisor for future allocations.
// The divisor is clamped so the fair share never falls below the minimum
// allocation: with more waiting tasks than the pool can fund at once, the
// surplus tasks wait for released funds instead of starving everyone.
func (p *BudgetPool) SetExpectedChildren(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 {
		n = 1
	}
	if fundable := p.childPool / p.minAllocation; fundable >= 1 && n > fundable {
		n = fundable
	}
	p.expectedChildren = n
}

// Allocate reserves a cap for one child. The cap is fair share times the
// priority multiplier, clamped by the per-child maximum and by the sequential
// spawn cap (a fraction of what is still available, so one early child can
// never drain the pool). Returns nil when the pool cannot grant at least the
// minimum allocation.
func (p *BudgetPool) Allocate(workerID, taskID string, priority BudgetPriority) *BudgetAllocation {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.allocations[workerID]; exists {
		return nil
	}

	multiplier, ok := p.multipliers[priority]
	if !ok {
		multiplier = 1.0
	}

	fairShare := float64(p.childPool) / float64(p.expectedChildren)
	cap := int(fairShare * multiplier)
	if cap > p.maxPerChild {
		cap = p.maxPerChild
	}
	spawnCap := int(float64(p.available) * SequentialSpawnCapFraction)
	if cap > spawnCap {
		cap = spawnCap
	}
	if cap > p.available {
		cap = p.available
	}
	if cap < p.minAllocation {
		return nil
	}

	alloc := &BudgetAllocation{
		WorkerID:        workerID,
		TaskID:          taskID,
		AllocatedTokens: cap,
	}
	p.allocations[workerID] = alloc
	p.available -= cap

	out := *alloc
	return &out
}

// ReportUsage records the running token total for an in-flight child. Usage
// is clamped to the allocated cap; the child itself is responsible for
// stopping at its cap.
func (p *BudgetPool) ReportUsage(workerID string, usedTokens int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	alloc, ok := p.allocations[workerID]
	if !ok || alloc.Returned() {
		return
	}
	if usedTokens < 0 {
		usedTokens = 0
	}
	if usedTokens > alloc.AllocatedTokens {
		usedTokens = alloc.AllocatedTokens
	}
	alloc.UsedTokens = usedTokens
}

// Release returns the unused remainder of a child's cap to the pool.
// Idempotent: a second release of the same worker is a no-op.
func (p *BudgetPool) Release(workerID string, finalUsed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	alloc, ok := p.allocations[workerID]
	if !ok || alloc.Returned() {
		return
	}
	if finalUsed >= 0 {
		if finalUsed > alloc.AllocatedTokens {
			finalUsed = alloc.AllocatedTokens
		}
		alloc.UsedTokens = finalUsed
	}
	p.available += alloc.AllocatedTokens - alloc.UsedTokens
	alloc.ReturnedAt = time.Now().UnixMilli()
}

// AllocationFor returns a copy of the allocation for workerID, if any.
func (p *BudgetPool) AllocationFor(workerID string) *BudgetAllocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	alloc, ok := p.allocations[workerID]
	if !ok {
		return nil
	}
	out := *alloc
	return &out
}

// CanAllocate reports whether the pool could still grant a minimum child.
func (p *BudgetPool) CanAllocate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(float64(p.available)*SequentialSpawnCapFraction) >= p.minAllocation
}

// Stats returns a consistent snapshot of the pool counters.
func (p *BudgetPool) Stats() BudgetPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *BudgetPool) statsLocked() BudgetPoolStats {
	stats := BudgetPoolStats{
		ParentTotal:      p.parentTotal,
		Reserved:         p.reserved,
		ChildPool:        p.childPool,
		Available:        p.available,
		TotalAllocations: len(p.allocations),
	}
	for _, alloc := range p.allocations {
		stats.Used += alloc.UsedTokens
		if !alloc.Returned() {
			stats.Outstanding += alloc.AllocatedTokens - alloc.UsedTokens
			stats.ActiveAllocations++
		}
	}
	return stats
}

// Snapshot serializes the pool for checkpointing.
func (p *BudgetPool) Snapshot() BudgetSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	allocs := make(map[string]*BudgetAllocation, len(p.allocations))
	for id, alloc := range p.allocations {
		copied := *alloc
		allocs[id] = &copied
	}
	return BudgetSnapshot{
		ParentTotal:      p.parentTotal,
		Reserved:         p.reserved,
		Available:        p.available,
		ExpectedChildren: p.expectedChildren,
		Allocations:      allocs,
	}
}

// Restore replaces the pool state from a snapshot. In-flight allocations from
// the interrupted run are released; their reported usage stays spent.
func (p *BudgetPool) Restore(snap BudgetSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.available = snap.Available
	if snap.ExpectedChildren >= 1 {
		p.expectedChildren = snap.ExpectedChildren
	}
	p.allocations = make(map[string]*BudgetAllocation, len(snap.Allocations))
	now := time.Now().UnixMilli()
	for id, alloc := range snap.Allocations {
		copied := *alloc
		if !copied.Returned() {
			p.available += copied.AllocatedTokens - copied.UsedTokens
			copied.ReturnedAt = now
		}
		p.allocations[id] = &copied
	}
}
