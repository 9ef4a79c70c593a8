// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"sort"
	"sync"
)

// SharedEconomics tracks (tool, args) fingerprints across every worker in a
// run so the orchestrator can spot the whole swarm circling the same call —
// the global doom loop no single worker can see from its own history.
// Counters are monotonic for the duration of a run; Reset clears them.
type SharedEconomics struct {
	mu        sync.Mutex
	counts    map[string]map[string]int // fingerprint -> workerID -> count
	threshold int
}

// GlobalLoop describes one fingerprint over the doom threshold.
type GlobalLoop struct {
	Fingerprint string   `json:"fingerprint"`
	Total       int      `json:"total"`
	Workers     []string `json:"workers"`
}

// EconomicsSnapshot is the serializable state for checkpoints.
type EconomicsSnapshot map[string]map[string]int

// NewSharedEconomics creates a tracker; threshold <= 0 uses the default.
func NewSharedEconomics(threshold int) *SharedEconomics {
	if threshold <= 0 {
		threshold = DefaultGlobalDoomThreshold
	}
	return &SharedEconomics{
		counts:    make(map[string]map[string]int),
		threshold: threshold,
	}
}

// RecordToolCall counts one occurrence of fingerprint by workerID.
func (e *SharedEconomics) RecordToolCall(workerID, fingerprint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byWorker, ok := e.counts[fingerprint]
	if !ok {
		byWorker = make(map[string]int)
		e.counts[fingerprint] = byWorker
	}
	byWorker[workerID]++
}

// TotalCalls returns the aggregate count for a fingerprint across workers.
func (e *SharedEconomics) TotalCalls(fingerprint string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLocked(fingerprint)
}

func (e *SharedEconomics) totalLocked(fingerprint string) int {
	total := 0
	for _, n := range e.counts[fingerprint] {
		total += n
	}
	return total
}

// IsGlobalDoomLoop reports whether the aggregate count crossed the threshold.
func (e *SharedEconomics) IsGlobalDoomLoop(fingerprint string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLocked(fingerprint) >= e.threshold
}

// GetGlobalLoops returns every fingerprint over the threshold, annotated
// with the workers involved, in descending total order.
func (e *SharedEconomics) GetGlobalLoops() []GlobalLoop {
	e.mu.Lock()
	defer e.mu.Unlock()

	var loops []GlobalLoop
	for fp, byWorker := range e.counts {
		total := 0
		workers := make([]string, 0, len(byWorker))
		for w, n := range byWorker {
			total += n
			workers = append(workers, w)
		}
		if total >= e.threshold {
			sort.Strings(workers)
			loops = append(loops, GlobalLoop{Fingerprint: fp, Total: total, Workers: workers})
		}
	}
	sort.Slice(loops, func(i, j int) bool {
		if loops[i].Total != loops[j].Total {
			return loops[i].Total > loops[j].Total
		}
		return loops[i].Fingerprint < loops[j].Fingerprint
	})
	return loops
}

// Snapshot deep-copies the state for checkpoints.
func (e *SharedEconomics) Snapshot() EconomicsSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := make(EconomicsSnapshot, len(e.counts))
	for fp, byWorker := range e.counts {
		inner := make(map[string]int, len(byWorker))
		for w, n := range byWorker {
			inner[w] = n
		}
		snap[fp] = inner
	}
	return snap
}

// Restore replaces the state with a snapshot.
func (e *SharedEconomics) Restore(snap EconomicsSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counts = make(map[string]map[string]int, len(snap))
	for fp, byWorker := range snap {
		inner := make(map[string]int, len(byWorker))
		for w, n := range byWorker {
			inner[w] = n
		}
		e.counts[fp] = inner
	}
}

// Reset clears all counters.
func (e *SharedEconomics) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts = make(map[string]map[string]int)
}
