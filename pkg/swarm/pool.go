// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eren23/attocode-sub003/pkg/logger"
)

// WorkerPoolConfig describes the worker flavors available to a run.
type WorkerPoolConfig struct {
	MaxConcurrent   int               `json:"max_concurrent"`
	WorkerSpecs     []SwarmWorkerSpec `json:"worker_specs"`
	FallbackWorkers []SwarmWorkerSpec `json:"fallback_workers,omitempty"`
	DefaultModel    string            `json:"default_model"`
	BaseTimeoutMs   int64             `json:"base_timeout_ms"`
	WorkingDir      string            `json:"working_dir,omitempty"`
}

// WorkerPool runs tasks through the external SpawnAgent adapter under a
// concurrency semaphore. It owns worker bookkeeping: file claims around the
// spawn, per-task timeouts scaled by complexity, failure classification,
// model health updates, and the spawn/claim/complete/fail events.
type WorkerPool struct {
	cfg        WorkerPoolConfig
	bus        *EventBus
	budget     *BudgetPool
	ledger     *FileLedger
	health     *ModelHealthTracker
	classifier FailureClassifier
	spawnAgent SpawnAgentFunc

	sem chan struct{}

	mu      sync.Mutex
	workers map[string]*SwarmWorkerStatus
}

// NewWorkerPool wires a pool. spawnAgent is the only mandatory collaborator;
// a nil classifier gets the heuristic default.
func NewWorkerPool(cfg WorkerPoolConfig, bus *EventBus, budget *BudgetPool, ledger *FileLedger, health *ModelHealthTracker, classifier FailureClassifier, spawnAgent SpawnAgentFunc) *WorkerPool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.BaseTimeoutMs <= 0 {
		cfg.BaseTimeoutMs = DefaultBaseTimeoutMs
	}
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	return &WorkerPool{
		cfg:        cfg,
		bus:        bus,
		budget:     budget,
		ledger:     ledger,
		health:     health,
		classifier: classifier,
		spawnAgent: spawnAgent,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		workers:    make(map[string]*SwarmWorkerStatus),
	}
}

// SelectWorker picks the spec whose capabilities cover the task's required
// set with the tightest fit, breaking ties by the model's recent failure
// rate. Falls through to the fallback list, then to a default-model coder.
func (p *WorkerPool) SelectWorker(task *SwarmTask) *SwarmWorkerSpec {
	wanted := task.RequiredCapabilities
	if len(wanted) == 0 {
		wanted = defaultCapabilitiesFor(task.Type)
	}

	if best := p.bestMatch(p.cfg.WorkerSpecs, wanted); best != nil {
		return best
	}
	for i := range p.cfg.FallbackWorkers {
		if p.cfg.FallbackWorkers[i].HasCapabilities(wanted) {
			spec := p.cfg.FallbackWorkers[i]
			return &spec
		}
	}
	return &SwarmWorkerSpec{
		Model:        p.cfg.DefaultModel,
		Role:         RoleCoder,
		Capabilities: wanted,
	}
}

func (p *WorkerPool) bestMatch(specs []SwarmWorkerSpec, wanted []Capability) *SwarmWorkerSpec {
	var best *SwarmWorkerSpec
	bestExtra := -1
	bestRate := 0.0
	for i := range specs {
		spec := &specs[i]
		if !spec.HasCapabilities(wanted) {
			continue
		}
		extra := len(spec.Capabilities) - len(wanted)
		rate := 0.0
		if p.health != nil {
			rate = p.health.FailureRate(spec.Model)
		}
		if best == nil || extra < bestExtra || (extra == bestExtra && rate < bestRate) {
			best, bestExtra, bestRate = spec, extra, rate
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// defaultCapabilitiesFor maps a task type to capabilities when the task
// declares none.
func defaultCapabilitiesFor(t TaskType) []Capability {
	switch t {
	case TaskResearch:
		return []Capability{CapResearch}
	case TaskReview:
		return []Capability{CapReview}
	case TaskTest:
		return []Capability{CapTest}
	case TaskDesign:
		return []Capability{CapDesign}
	case TaskDocumentation:
		return []Capability{CapDocumentation}
	default:
		return []Capability{CapCode}
	}
}

// Spawn runs one task attempt to completion. It blocks on the concurrency
// semaphore, claims the task's target files, invokes the adapter with a
// complexity-scaled timeout, classifies the outcome, and emits the
// spawn/complete/fail events. The budget allocation identifies the worker;
// releasing it back to the pool is the caller's job.
func (p *WorkerPool) Spawn(task *SwarmTask, spec *SwarmWorkerSpec, alloc *BudgetAllocation, cancel *CancelToken, attempt int, failureEvidence string) *SwarmTaskResult {
	workerID := alloc.WorkerID
	started := time.Now()

	select {
	case p.sem <- struct{}{}:
	case <-cancel.Done():
		return p.cancelledResult(task, started, cancel.Reason())
	}
	defer func() { <-p.sem }()

	if cancel.IsCancelled() {
		return p.cancelledResult(task, started, cancel.Reason())
	}

	p.setWorkerStatus(workerID, &SwarmWorkerStatus{
		WorkerID:  workerID,
		Status:    WorkerClaiming,
		TaskID:    task.ID,
		StartedAt: started.UnixMilli(),
	})
	defer p.finishWorker(workerID, started)

	p.emit(newEvent(EventSpawn, task.ID, workerID, "Worker spawned", &SpawnPayload{
		WorkerID: workerID,
		Model:    spec.Model,
		Attempt:  attempt,
		Budget:   alloc.AllocatedTokens,
	}))

	if p.ledger != nil && len(task.TargetFiles) > 0 {
		if err := p.ledger.Claim(workerID, task.TargetFiles); err != nil {
			return p.failureResult(task, started, FailureToolError, err.Error(), attempt)
		}
		defer p.ledger.ReleaseAll(workerID)
	}

	p.updateWorkerState(workerID, WorkerRunning)

	timeout := p.taskTimeout(task)

	// Periodic progress heartbeat while the worker runs.
	progressDone := make(chan struct{})
	defer close(progressDone)
	go func() {
		ticker := time.NewTicker(time.Duration(DefaultProgressIntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				elapsed := time.Since(started)
				if elapsed > timeout {
					elapsed = timeout
				}
				p.emit(newEvent(EventInfo, task.ID, workerID,
					fmt.Sprintf("Worker running: %s of %s", elapsed.Round(time.Second), timeout), nil))
			case <-progressDone:
				return
			}
		}
	}()

	childCancel := cancel.Child()
	spawnSpec := &WorkerSpawnSpec{
		Task:         task,
		SystemPrompt: tieredSystemPrompt(task, attempt, failureEvidence),
		Budget:       alloc.AllocatedTokens,
		Capabilities: spec.Capabilities,
		WorkingDir:   p.cfg.WorkingDir,
		Model:        spec.Model,
		Cancel:       childCancel,
	}

	resultCh := make(chan *SpawnResult, 1)
	go func() {
		resultCh <- p.spawnAgent(spawnSpec)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var raw *SpawnResult
	select {
	case raw = <-resultCh:
	case <-timer.C:
		childCancel.Cancel("task timeout")
		raw = &SpawnResult{
			Success:     false,
			FailureMode: FailureTimeout,
			RawError:    fmt.Sprintf("worker exceeded %s timeout", timeout),
			DurationMs:  time.Since(started).Milliseconds(),
		}
	case <-cancel.Done():
		childCancel.Cancel(cancel.Reason())
		// Give the adapter a moment to return a partial result.
		select {
		case raw = <-resultCh:
		case <-time.After(time.Duration(DefaultGraceDeadlineMs) * time.Millisecond):
			raw = &SpawnResult{
				Success:     false,
				FailureMode: FailureCancelled,
				RawError:    "cancelled: " + cancel.Reason(),
				DurationMs:  time.Since(started).Milliseconds(),
			}
		}
	}

	if p.budget != nil {
		p.budget.ReportUsage(workerID, raw.TokensUsed)
	}
	p.recordWorkerTokens(workerID, raw.TokensUsed)

	result := &SwarmTaskResult{
		TaskID:           task.ID,
		Success:          raw.Success,
		Response:         raw.Response,
		ArtifactsChanged: raw.ArtifactsChanged,
		ConflictPaths:    raw.ConflictPaths,
		TokensUsed:       raw.TokensUsed,
		CostUSD:          raw.CostUSD,
		DurationMs:       raw.DurationMs,
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(started).Milliseconds()
	}

	if raw.Success {
		// The complete event is the orchestrator's to emit: acceptance and
		// the final score are decided by the quality gate, after this return.
		if p.health != nil {
			p.health.RecordSuccess(spec.Model, result.DurationMs)
		}
		return result
	}

	mode := p.classifier.Classify(raw)
	result.FailureMode = mode
	if p.health != nil {
		p.health.RecordFailure(spec.Model, mode)
	}
	logger.DebugCF("swarm", "Worker failed", map[string]any{
		"task":   task.ID,
		"worker": workerID,
		"mode":   string(mode),
		"error":  raw.RawError,
	})
	p.emit(newEvent(EventFail, task.ID, workerID, raw.RawError, &FailPayload{
		FailureMode: mode,
		Attempt:     attempt,
	}))
	return result
}

// taskTimeout scales the base timeout by task complexity.
func (p *WorkerPool) taskTimeout(task *SwarmTask) time.Duration {
	complexity := task.Complexity
	if complexity < 1 {
		complexity = 1
	}
	return time.Duration(p.cfg.BaseTimeoutMs*int64(complexity)) * time.Millisecond
}

func (p *WorkerPool) cancelledResult(task *SwarmTask, started time.Time, reason string) *SwarmTaskResult {
	return &SwarmTaskResult{
		TaskID:      task.ID,
		Success:     false,
		FailureMode: FailureCancelled,
		DurationMs:  time.Since(started).Milliseconds(),
		Response:    "cancelled: " + reason,
	}
}

func (p *WorkerPool) failureResult(task *SwarmTask, started time.Time, mode FailureMode, msg string, attempt int) *SwarmTaskResult {
	p.emit(newEvent(EventFail, task.ID, "", msg, &FailPayload{FailureMode: mode, Attempt: attempt}))
	return &SwarmTaskResult{
		TaskID:      task.ID,
		Success:     false,
		FailureMode: mode,
		Response:    msg,
		DurationMs:  time.Since(started).Milliseconds(),
	}
}

func (p *WorkerPool) emit(e SwarmEvent) {
	if p.bus != nil {
		p.bus.Emit(e)
	}
}

func (p *WorkerPool) setWorkerStatus(workerID string, status *SwarmWorkerStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[workerID] = status
}

func (p *WorkerPool) updateWorkerState(workerID string, state WorkerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[workerID]; ok {
		w.Status = state
	}
}

func (p *WorkerPool) recordWorkerTokens(workerID string, tokens int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[workerID]; ok {
		w.TokensUsed = tokens
	}
}

func (p *WorkerPool) finishWorker(workerID string, started time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[workerID]; ok {
		w.Status = WorkerDone
		w.ElapsedMs = time.Since(started).Milliseconds()
	}
}

// WorkerStatuses returns a copy of the live worker table, sorted by ID.
func (p *WorkerPool) WorkerStatuses() []SwarmWorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SwarmWorkerStatus, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}
