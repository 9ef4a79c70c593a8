// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import "sync"

// ModelHealthTracker keeps per-model outcome counters so worker selection
// can prefer models that have been succeeding in this run.
type ModelHealthTracker struct {
	mu      sync.Mutex
	records map[string]*ModelHealthRecord
}

// NewModelHealthTracker creates an empty tracker.
func NewModelHealthTracker() *ModelHealthTracker {
	return &ModelHealthTracker{records: make(map[string]*ModelHealthRecord)}
}

func (h *ModelHealthTracker) record(model string) *ModelHealthRecord {
	rec, ok := h.records[model]
	if !ok {
		rec = &ModelHealthRecord{Model: model, Healthy: true}
		h.records[model] = rec
	}
	return rec
}

// RecordSuccess counts a successful task and folds the latency into the
// running average.
func (h *ModelHealthTracker) RecordSuccess(model string, latencyMs int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.record(model)
	total := rec.Successes + rec.Failures
	rec.AvgLatencyMs = (rec.AvgLatencyMs*float64(total) + float64(latencyMs)) / float64(total+1)
	rec.Successes++
	rec.Healthy = h.healthyLocked(rec)
}

// RecordFailure counts a failure by mode.
func (h *ModelHealthTracker) RecordFailure(model string, mode FailureMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.record(model)
	rec.Failures++
	switch mode {
	case FailureRateLimit:
		rec.RateLimits++
	case FailureQualityRejected:
		rec.QualityRejections++
	}
	rec.Healthy = h.healthyLocked(rec)
}

// healthyLocked: a model with little data is presumed healthy; after that,
// it stays healthy while failures are under half of outcomes.
func (h *ModelHealthTracker) healthyLocked(rec *ModelHealthRecord) bool {
	total := rec.Successes + rec.Failures
	if total < 3 {
		return true
	}
	return float64(rec.Failures)/float64(total) < 0.5
}

// FailureRate returns failures over total outcomes, 0 with no data.
func (h *ModelHealthTracker) FailureRate(model string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[model]
	if !ok {
		return 0
	}
	total := rec.Successes + rec.Failures
	if total == 0 {
		return 0
	}
	return float64(rec.Failures) / float64(total)
}

// Healthy reports the model's current health flag. Unknown models are
// healthy.
func (h *ModelHealthTracker) Healthy(model string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[model]
	if !ok {
		return true
	}
	return rec.Healthy
}

// Records returns a copy of every model's record.
func (h *ModelHealthTracker) Records() []ModelHealthRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ModelHealthRecord, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, *rec)
	}
	return out
}
