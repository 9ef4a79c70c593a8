// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBudgetConfig() BudgetConfig {
	return BudgetConfig{
		ParentTotal:    100_000,
		ReservePercent: 0.25,
		MaxPerChild:    40_000,
		MinAllocation:  1_000,
		PriorityMultipliers: map[BudgetPriority]float64{
			PriorityCritical: 1.5,
			PriorityHigh:     1.25,
			PriorityNormal:   1.0,
			PriorityLow:      0.75,
		},
	}
}

// conservation asserts the pool invariant at any snapshot.
func conservation(t *testing.T, p *BudgetPool) {
	t.Helper()
	s := p.Stats()
	assert.Equal(t, s.ParentTotal, s.Used+s.Available+s.Reserved+s.Outstanding,
		"used=%d available=%d reserved=%d outstanding=%d", s.Used, s.Available, s.Reserved, s.Outstanding)
}

func TestBudgetPoolSplit(t *testing.T) {
	p := NewBudgetPool(testBudgetConfig())
	s := p.Stats()
	assert.Equal(t, 25_000, s.Reserved)
	assert.Equal(t, 75_000, s.ChildPool)
	assert.Equal(t, 75_000, s.Available)
	conservation(t, p)
}

func TestBudgetAllocateCriticalSingleChild(t *testing.T) {
	p := NewBudgetPool(testBudgetConfig())
	p.SetExpectedChildren(1)

	alloc := p.Allocate("w1", "t1", PriorityCritical)
	require.NotNil(t, alloc)
	// fair share 75000 x 1.5 = 112500, clamped by maxPerChild 40000.
	assert.Equal(t, 40_000, alloc.AllocatedTokens)
	conservation(t, p)
}

func TestBudgetSequentialSpawnCap(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.MaxPerChild = 75_000
	p := NewBudgetPool(cfg)
	p.SetExpectedChildren(1)

	// 60% of the remaining 75000.
	alloc := p.Allocate("w1", "t1", PriorityCritical)
	require.NotNil(t, alloc)
	assert.Equal(t, 45_000, alloc.AllocatedTokens)

	// Next child is capped against what is left, not the original pool.
	alloc2 := p.Allocate("w2", "t2", PriorityCritical)
	require.NotNil(t, alloc2)
	assert.Equal(t, 18_000, alloc2.AllocatedTokens)
	conservation(t, p)
}

func TestBudgetAllocateBelowMinimumReturnsNil(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.ParentTotal = 2_000 // child pool 1500, 60% cap 900 < min 1000
	p := NewBudgetPool(cfg)

	assert.Nil(t, p.Allocate("w1", "t1", PriorityNormal))
	assert.False(t, p.CanAllocate())
}

func TestBudgetExpectedChildrenClampedToFundable(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.ParentTotal = 40_000 // child pool 30000 funds at most 30 minimum children
	p := NewBudgetPool(cfg)
	p.SetExpectedChildren(40)

	// Fair share is computed over the fundable count, not the raw demand, so
	// the pool keeps granting minimum allocations instead of parking everyone.
	alloc := p.Allocate("w1", "t1", PriorityNormal)
	require.NotNil(t, alloc)
	assert.Equal(t, 1_000, alloc.AllocatedTokens)
	conservation(t, p)
}

func TestBudgetReleaseRefundsAndIsIdempotent(t *testing.T) {
	p := NewBudgetPool(testBudgetConfig())
	p.SetExpectedChildren(3)

	alloc := p.Allocate("w1", "t1", PriorityNormal)
	require.NotNil(t, alloc)
	assert.Equal(t, 25_000, alloc.AllocatedTokens)

	p.ReportUsage("w1", 10_000)
	conservation(t, p)

	p.Release("w1", 10_000)
	s := p.Stats()
	assert.Equal(t, 75_000-10_000, s.Available)
	assert.Equal(t, 10_000, s.Used)
	assert.Equal(t, 0, s.Outstanding)
	conservation(t, p)

	// Second release must not double-refund.
	p.Release("w1", 10_000)
	assert.Equal(t, 75_000-10_000, p.Stats().Available)
	conservation(t, p)
}

func TestBudgetUsageClampedToCap(t *testing.T) {
	p := NewBudgetPool(testBudgetConfig())
	p.SetExpectedChildren(3)
	alloc := p.Allocate("w1", "t1", PriorityNormal)
	require.NotNil(t, alloc)

	p.Release("w1", alloc.AllocatedTokens*2)
	s := p.Stats()
	assert.Equal(t, alloc.AllocatedTokens, s.Used)
	conservation(t, p)
}

func TestBudgetDuplicateWorkerRejected(t *testing.T) {
	p := NewBudgetPool(testBudgetConfig())
	require.NotNil(t, p.Allocate("w1", "t1", PriorityNormal))
	assert.Nil(t, p.Allocate("w1", "t2", PriorityNormal))
}

func TestBudgetConcurrentAllocationsNeverOversubscribe(t *testing.T) {
	p := NewBudgetPool(testBudgetConfig())
	p.SetExpectedChildren(4)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.Allocate(newWorkerID(), "t", PriorityNormal)
		}(i)
	}
	wg.Wait()

	s := p.Stats()
	assert.GreaterOrEqual(t, s.Available, 0)
	conservation(t, p)
}

func TestBudgetSnapshotRestore(t *testing.T) {
	p := NewBudgetPool(testBudgetConfig())
	p.SetExpectedChildren(2)
	require.NotNil(t, p.Allocate("w1", "t1", PriorityNormal))
	p.ReportUsage("w1", 5_000)
	p.Release("w1", 5_000)
	require.NotNil(t, p.Allocate("w2", "t2", PriorityHigh))
	p.ReportUsage("w2", 2_000)

	snap := p.Snapshot()

	restored := NewBudgetPool(testBudgetConfig())
	restored.Restore(snap)

	// In-flight w2 is released on restore; its reported usage stays spent.
	s := restored.Stats()
	assert.Equal(t, 7_000, s.Used)
	assert.Equal(t, 0, s.Outstanding)
	conservation(t, restored)

	alloc := restored.AllocationFor("w2")
	require.NotNil(t, alloc)
	assert.True(t, alloc.Returned())
}
