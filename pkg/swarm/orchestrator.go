// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eren23/attocode-sub003/pkg/logger"
	"github.com/eren23/attocode-sub003/pkg/providers"
)

// Phase is the orchestrator's run lifecycle state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseDecomposing  Phase = "decomposing"
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseReplanning   Phase = "replanning"
	PhaseVerifying    Phase = "verifying"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// waveOutcome is the tagged result of one pass through the execute loop.
type waveOutcome int

const (
	waveProgressed waveOutcome = iota
	waveDrained
	waveCancelled
	waveBudgetExhausted
	waveStalled
)

// Orchestrator drives a swarm run end to end: decompose the goal into a
// task DAG, execute it in waves of parallel workers, gate every result,
// recover from failures, then verify and synthesize. It owns the queue, the
// budget pool, the ledger, and the worker pool; components never reference
// each other directly, coordination happens here or over the event bus.
type Orchestrator struct {
	cfg        SwarmConfig
	provider   providers.Provider
	spawnAgent SpawnAgentFunc

	bus       *EventBus
	queue     *TaskQueue
	budget    *BudgetPool
	ledger    *FileLedger
	economics *SharedEconomics
	recovery  *RecoveryManager
	health    *ModelHealthTracker
	pool      *WorkerPool
	gate      *QualityGate
	store     RunStore

	poolCfg    WorkerPoolConfig
	classifier FailureClassifier

	root  *CancelToken
	runID string
	goal  string

	mu           sync.Mutex
	phase        Phase
	currentWave  int
	results      map[string]*SwarmTaskResult
	lastFailures map[string]FailureMode
	fixedUp      map[string]bool // original task ID -> fixup already inserted
	doomSeen     map[string]bool // global loop fingerprints already reported
	stallTicks   int
}

// OrchestratorOption customizes construction.
type OrchestratorOption func(*Orchestrator)

// WithEventBus substitutes a caller-owned bus (for external subscribers).
func WithEventBus(bus *EventBus) OrchestratorOption {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithRunStore persists run and task outcomes to a store.
func WithRunStore(store RunStore) OrchestratorOption {
	return func(o *Orchestrator) { o.store = store }
}

// WithWorkerSpecs declares the worker flavors and fallbacks for the pool.
func WithWorkerSpecs(specs, fallbacks []SwarmWorkerSpec) OrchestratorOption {
	return func(o *Orchestrator) {
		o.poolCfg.WorkerSpecs = specs
		o.poolCfg.FallbackWorkers = fallbacks
	}
}

// WithWorkingDir sets the directory workers operate in and artifact checks
// resolve against.
func WithWorkingDir(dir string) OrchestratorOption {
	return func(o *Orchestrator) { o.poolCfg.WorkingDir = dir }
}

// WithClassifier replaces the heuristic failure classifier.
func WithClassifier(c FailureClassifier) OrchestratorOption {
	return func(o *Orchestrator) { o.classifier = c }
}

// NewOrchestrator validates the config and wires the full component set.
// provider may be nil (disables decomposition, judge, replan, verification
// and synthesis prompts); spawnAgent must not be.
func NewOrchestrator(cfg SwarmConfig, provider providers.Provider, spawnAgent SpawnAgentFunc, opts ...OrchestratorOption) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if spawnAgent == nil {
		return nil, fmt.Errorf("%w: spawn agent is required", ErrConfiguration)
	}
	if cfg.EventLogPath == "" && cfg.RunRoot != "" {
		cfg.EventLogPath = filepath.Join(cfg.RunRoot, "swarm.events.jsonl")
	}

	o := &Orchestrator{
		cfg:          cfg,
		provider:     provider,
		spawnAgent:   spawnAgent,
		runID:        newRunID(),
		phase:        PhaseIdle,
		results:      make(map[string]*SwarmTaskResult),
		lastFailures: make(map[string]FailureMode),
		fixedUp:      make(map[string]bool),
		doomSeen:     make(map[string]bool),
		poolCfg: WorkerPoolConfig{
			MaxConcurrent: cfg.MaxConcurrent,
			DefaultModel:  cfg.WorkerModel,
			BaseTimeoutMs: cfg.BaseTimeoutMs,
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bus == nil {
		o.bus = NewEventBus()
	}
	if cfg.EventLogPath != "" {
		if err := o.bus.EnablePersistence(cfg.EventLogPath); err != nil {
			logger.WarnCF("swarm", "Event log disabled", map[string]any{"error": err.Error()})
		}
	}

	o.root = NewCancelRoot()
	o.queue = NewTaskQueue(cfg.ConflictStrategy, o.bus)
	o.budget = NewBudgetPool(cfg.Budget)
	o.ledger = NewFileLedger(o.poolCfg.WorkingDir, o.bus)
	o.economics = NewSharedEconomics(cfg.GlobalDoomThreshold)
	o.recovery = NewRecoveryManager(&o.cfg, o.bus)
	o.health = NewModelHealthTracker()
	o.gate = NewQualityGate(&o.cfg, provider, o.poolCfg.WorkingDir)
	o.pool = NewWorkerPool(o.poolCfg, o.bus, o.budget, o.ledger, o.health, o.classifier, spawnAgent)
	return o, nil
}

// Bus exposes the event bus for external subscribers.
func (o *Orchestrator) Bus() *EventBus { return o.bus }

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string { return o.runID }

// Ledger exposes the file ledger for worker adapters that write through it.
func (o *Orchestrator) Ledger() *FileLedger { return o.ledger }

// Economics exposes the shared tool-call tracker for worker adapters.
func (o *Orchestrator) Economics() *SharedEconomics { return o.economics }

// Cancel aborts the run; every outstanding worker token is cancelled.
func (o *Orchestrator) Cancel(reason string) {
	o.root.Cancel(reason)
}

// Status returns a point-in-time view of the run.
func (o *Orchestrator) Status() SwarmStatus {
	o.mu.Lock()
	phase := o.phase
	wave := o.currentWave
	o.mu.Unlock()

	waves, _ := o.queue.Waves()
	return SwarmStatus{
		Phase:       phase,
		CurrentWave: wave,
		TotalWaves:  len(waves),
		Queue:       o.queue.Stats(),
		Workers:     o.pool.WorkerStatuses(),
		Budget:      o.budget.Stats(),
	}
}

// Run executes the goal to completion. Always returns a SwarmExecutionResult
// for recoverable endings; only configuration and invariant violations
// return a bare error.
func (o *Orchestrator) Run(ctx context.Context, goal string) (*SwarmExecutionResult, error) {
	started := time.Now()
	o.goal = goal

	// Bridge the caller's context into the cancellation tree.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			o.root.Cancel("context cancelled")
		case <-o.root.Done():
		case <-watchDone:
		}
	}()

	if o.store != nil {
		if err := o.store.CreateRun(o.runID, goal); err != nil {
			logger.WarnCF("swarm", "Run store create failed", map[string]any{"error": err.Error()})
		}
	}

	// Decompose.
	o.setPhase(PhaseDecomposing)
	decomposition := o.decompose(ctx, goal)
	if len(decomposition.Tasks) == 0 {
		o.setPhase(PhaseCompleted)
		return o.finish(started, true, ReasonEmpty), nil
	}

	// Plan.
	o.setPhase(PhasePlanning)
	if err := o.queue.Ingest(decomposition.Tasks); err != nil {
		o.setPhase(PhaseFailed)
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	o.writeManifest()

	// Execute.
	o.setPhase(PhaseExecuting)
	outcome := o.executeWaves(ctx)
	switch outcome {
	case waveCancelled:
		o.releaseOutstanding()
		o.setPhase(PhaseFailed)
		return o.finish(started, false, ReasonCancelled), nil
	case waveBudgetExhausted:
		o.releaseOutstanding()
		o.setPhase(PhaseFailed)
		return o.finish(started, false, ReasonBudget), nil
	}

	// Verify.
	var verifications []VerificationResult
	if o.cfg.Verify && o.provider != nil {
		o.setPhase(PhaseVerifying)
		verifications = o.verify(ctx)
	}

	// Synthesize.
	o.setPhase(PhaseSynthesizing)
	stats := o.queue.Stats()
	success := stats.Failed == 0 && stats.Skipped == 0
	reason := ""
	if !success {
		reason = ReasonFailedTasks
	}
	result := o.finish(started, success, reason)
	result.Verifications = verifications
	if o.provider != nil {
		result.Summary = o.synthesize(ctx, result)
	}

	if success {
		o.setPhase(PhaseCompleted)
	} else {
		o.setPhase(PhaseFailed)
	}
	o.checkpoint()
	return result, nil
}

// decompose asks the provider for a task breakdown; any failure falls back
// to the emergency single-task decomposition.
func (o *Orchestrator) decompose(ctx context.Context, goal string) *SmartDecompositionResult {
	emergency := func() *SmartDecompositionResult {
		if strings.TrimSpace(goal) == "" {
			return &SmartDecompositionResult{}
		}
		t := NewSwarmTask(TaskImplement, goal)
		return &SmartDecompositionResult{
			Tasks:    []*SwarmTask{t},
			Strategy: "emergency",
		}
	}

	if o.provider == nil {
		return emergency()
	}
	if strings.TrimSpace(goal) == "" {
		return &SmartDecompositionResult{}
	}

	runCtx, cancel := o.root.ContextFrom(ctx)
	defer cancel()
	resp, err := o.provider.Chat(runCtx, []providers.Message{
		{Role: "user", Content: buildDecompositionUserPrompt(goal, "")},
	}, providers.ChatOptions{
		Model:          o.cfg.OrchestratorModel,
		System:         decompositionSystemPrompt,
		ResponseFormat: "json",
		MaxTokens:      4096,
	})
	if err != nil {
		logger.WarnCF("swarm", "Decomposition call failed, using emergency plan", map[string]any{"error": err.Error()})
		return emergency()
	}

	parsed, err := parseDecomposition(resp.Content)
	if err != nil || len(parsed.Tasks) == 0 {
		logger.WarnCF("swarm", "Decomposition parse failed, using emergency plan", nil)
		return emergency()
	}
	return parsed
}

// parseDecomposition extracts and validates the task breakdown JSON.
func parseDecomposition(content string) (*SmartDecompositionResult, error) {
	raw := extractFirstJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in decomposition response")
	}
	var result SmartDecompositionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, err
	}
	for _, t := range result.Tasks {
		if t.ID == "" {
			t.ID = newTaskID()
		}
		if t.Type == "" {
			t.Type = TaskImplement
		}
		if t.Complexity < 1 || t.Complexity > 5 {
			t.Complexity = 3
		}
		if t.Priority < 1 || t.Priority > 3 {
			t.Priority = 2
		}
		t.Status = TaskPending
	}
	return &result, nil
}

// executeWaves is the main loop. Each iteration: honor the breaker, compose
// a wave, fund and spawn it, gate the results, run recovery, checkpoint.
func (o *Orchestrator) executeWaves(ctx context.Context) waveOutcome {
	for {
		if o.root.IsCancelled() {
			return waveCancelled
		}

		if o.recovery.BreakerActive() {
			if !o.sleepCancellable(o.recovery.BreakerRemaining()) {
				return waveCancelled
			}
			continue
		}

		stats := o.queue.Stats()
		if stats.NonTerminal() == 0 {
			return waveDrained
		}

		expected := stats.Pending + stats.Ready
		if expected < 1 {
			expected = 1
		}
		o.budget.SetExpectedChildren(expected)

		wave := o.queue.NextWave(o.cfg.MaxConcurrent)
		if len(wave) == 0 {
			outcome := o.handleEmptyWave(ctx, stats)
			if outcome != waveProgressed {
				return outcome
			}
			continue
		}

		o.mu.Lock()
		o.currentWave++
		o.stallTicks = 0
		waveNum := o.currentWave
		o.mu.Unlock()

		ids := make([]string, len(wave))
		for i, t := range wave {
			ids[i] = t.ID
		}
		o.bus.Emit(newEvent(EventWaveStart, "", "", fmt.Sprintf("Wave %d", waveNum), &WavePayload{Wave: waveNum, Tasks: ids}))

		outcome := o.runWave(ctx, wave, waveNum)

		o.bus.Emit(newEvent(EventBudget, "", "", "Budget after wave", &BudgetPayload{Stats: o.budget.Stats()}))
		o.bus.Emit(newEvent(EventWaveEnd, "", "", fmt.Sprintf("Wave %d done", waveNum), &WavePayload{Wave: waveNum, Tasks: ids}))
		o.rescueSkipped()
		o.reportGlobalLoops()
		o.checkpoint()

		if outcome != waveProgressed {
			return outcome
		}
	}
}

// handleEmptyWave deals with a tick that produced no dispatchable tasks:
// either everything is in flight, the run is deadlocked (stall -> one
// replan), or the pool is out of budget.
func (o *Orchestrator) handleEmptyWave(ctx context.Context, stats QueueStats) waveOutcome {
	if stats.Running > 0 {
		// Workers from a previous wave still going; wait a beat.
		if !o.sleepCancellable(100 * time.Millisecond) {
			return waveCancelled
		}
		return waveProgressed
	}

	if stats.Ready == 0 && stats.Pending > 0 {
		o.mu.Lock()
		o.stallTicks++
		ticks := o.stallTicks
		o.mu.Unlock()
		if ticks >= o.cfg.ReplanStallTicks && o.recovery.TryReplan() {
			o.replan(ctx)
			return waveProgressed
		}
		if ticks > o.cfg.ReplanStallTicks {
			// Replan already spent and the graph is still wedged.
			return waveStalled
		}
		if !o.sleepCancellable(100 * time.Millisecond) {
			return waveCancelled
		}
		return waveProgressed
	}

	if stats.Ready > 0 && !o.budget.CanAllocate() {
		return waveBudgetExhausted
	}

	if !o.sleepCancellable(100 * time.Millisecond) {
		return waveCancelled
	}
	return waveProgressed
}

// runWave funds, spawns, awaits, and gates one wave of tasks.
func (o *Orchestrator) runWave(ctx context.Context, wave []*SwarmTask, waveNum int) waveOutcome {
	type flight struct {
		task  *SwarmTask
		alloc *BudgetAllocation
	}

	var flights []flight
	for _, task := range wave {
		if o.root.IsCancelled() {
			break
		}
		alloc := o.budget.Allocate(newWorkerID(), task.ID, budgetPriorityForTask(task.Priority))
		if alloc == nil {
			// Parked: stays ready, re-evaluated next tick.
			logger.DebugCF("swarm", "Task parked, pool cannot fund it", map[string]any{"task": task.ID})
			continue
		}
		if err := o.queue.MarkDispatched(task.ID); err != nil {
			o.budget.Release(alloc.WorkerID, 0)
			logger.WarnCF("swarm", "Dispatch failed", map[string]any{"task": task.ID, "error": err.Error()})
			continue
		}
		flights = append(flights, flight{task: task, alloc: alloc})
	}

	if len(flights) == 0 {
		if o.root.IsCancelled() {
			return waveCancelled
		}
		if o.budget.Stats().Outstanding > 0 {
			// In-flight children may still release funds; wait a beat.
			if !o.sleepCancellable(100 * time.Millisecond) {
				return waveCancelled
			}
			return waveProgressed
		}
		// Every wave member parked and nothing is in flight to release
		// funds: the pool cannot fund this wave, now or later.
		return waveBudgetExhausted
	}

	results := make(chan *SwarmTaskResult, len(flights))
	var maxTimeout time.Duration
	for _, f := range flights {
		if t := o.pool.taskTimeout(f.task); t > maxTimeout {
			maxTimeout = t
		}
	}

	var wg sync.WaitGroup
	spawned := 0
	for i, f := range flights {
		if i > 0 {
			if stagger := o.recovery.CurrentStagger(); stagger > 0 {
				if !o.sleepCancellable(stagger) {
					break
				}
			}
		}

		wg.Add(1)
		go func(f flight) {
			defer wg.Done()
			spec := o.pool.SelectWorker(f.task)
			attempt := o.queue.Attempts(f.task.ID)
			evidence := o.failureEvidence(f.task.ID)
			result := o.pool.Spawn(f.task, spec, f.alloc, o.root, attempt, evidence)
			o.budget.Release(f.alloc.WorkerID, result.TokensUsed)
			results <- result
		}(f)
		spawned++
	}

	// Flights cut off by mid-stagger cancellation never spawned: return their
	// funding and demote them so shutdown leaves no dispatched orphans.
	for _, f := range flights[spawned:] {
		o.budget.Release(f.alloc.WorkerID, 0)
		if err := o.queue.RequeueForRetry(f.task.ID); err != nil {
			logger.WarnCF("swarm", "Unspawned flight requeue failed", map[string]any{"task": f.task.ID, "error": err.Error()})
		}
	}

	waveDeadline := time.NewTimer(maxTimeout + time.Duration(o.cfg.WaveTimeoutSlackMs)*time.Millisecond)
	defer waveDeadline.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-waveDeadline.C:
		// Workers have their own timeouts; this is the backstop.
		o.root.Cancel("wave deadline exceeded")
		<-done
	case <-o.root.Done():
		<-done
	}
	close(results)

	for result := range results {
		o.handleResult(ctx, result, waveNum)
	}
	if o.root.IsCancelled() {
		return waveCancelled
	}
	return waveProgressed
}

// handleResult routes one worker outcome through the gate and recovery.
func (o *Orchestrator) handleResult(ctx context.Context, result *SwarmTaskResult, waveNum int) {
	task := o.queue.Get(result.TaskID)
	if task == nil {
		return
	}

	if result.Success {
		o.acceptOrReject(ctx, task, result, waveNum)
		return
	}

	// Raw failure path.
	mode := result.FailureMode
	o.recordFailure(task.ID, mode)
	o.recovery.RecordFailure(task.ID, mode)

	if mode == FailureCancelled || o.root.IsCancelled() {
		o.storeResult(task.ID, result)
		// No transition: the run is ending; completion after cancellation
		// must not promote downstream work.
		return
	}

	// Write conflicts feed per-path streaks; a second consecutive conflict
	// on a path means retrying the same writers will just collide again, so
	// the task is split instead.
	conflictEscalated := false
	for _, path := range result.ConflictPaths {
		if o.recovery.RecordConflict(path) {
			conflictEscalated = true
		}
	}

	if mode == FailureRateLimit {
		o.recovery.RecordRateLimit("")
		o.recovery.IncreaseStagger()
	}

	tc := o.cfg.TaskTypeConfigFor(task.Type)
	attempts := o.queue.Attempts(task.ID)

	if conflictEscalated || o.recovery.ShouldAutoSplit(task, attempts) {
		if o.autoSplit(ctx, task) {
			o.storeResult(task.ID, result)
			return
		}
	}

	if mode.Transient() && attempts < tc.RetryLimit {
		if err := o.queue.RequeueForRetry(task.ID); err == nil {
			o.bus.Emit(newEvent(EventInfo, task.ID, "", "Retrying after transient failure", &FailPayload{
				FailureMode: mode,
				Attempt:     attempts,
				WillRetry:   true,
			}))
			return
		}
	}

	o.storeResult(task.ID, result)
	o.failTask(task.ID)
}

// acceptOrReject runs the quality gate over a successful worker return.
func (o *Orchestrator) acceptOrReject(ctx context.Context, task *SwarmTask, result *SwarmTaskResult, waveNum int) {
	tc := o.cfg.TaskTypeConfigFor(task.Type)
	attempts := o.queue.Attempts(task.ID)
	retryBudget := tc.RetryLimit
	if o.cfg.FixupCountsAsRetry {
		retryBudget -= boolToInt(o.fixupInserted(task.ID))
	}
	retriesLeft := attempts < retryBudget || (!task.IsFixup() && !o.fixupInserted(task.ID))

	runCtx, cancel := o.root.ContextFrom(ctx)
	decision := o.gate.Evaluate(runCtx, task, result, retriesLeft)
	cancel()

	o.bus.Emit(newEvent(EventWaveReview, task.ID, "", "Gate decision", map[string]any{
		"wave":     waveNum,
		"accepted": decision.Accepted,
		"score":    decision.Score,
		"degraded": decision.Degraded,
	}))

	if decision.Accepted {
		result.AcceptedWithDegradation = decision.Degraded
		o.storeResult(task.ID, result)
		o.recovery.RecordSuccess(task.ID)
		o.recovery.DecreaseStagger()
		for _, path := range result.ArtifactsChanged {
			o.recovery.ClearConflict(path)
		}
		if err := o.queue.MarkCompleted(task.ID); err != nil {
			logger.WarnCF("swarm", "Completion transition failed", map[string]any{"task": task.ID, "error": err.Error()})
		}
		o.bus.Emit(newEvent(EventComplete, task.ID, "", "Task accepted", &CompletePayload{
			TokensUsed: result.TokensUsed,
			CostUSD:    result.CostUSD,
			Score:      decision.Score,
			Degraded:   decision.Degraded,
		}))
		o.persistTask(task, result, decision)
		return
	}

	// Rejected by the gate.
	result.FailureMode = FailureQualityRejected
	o.recordFailure(task.ID, FailureQualityRejected)
	o.recovery.RecordFailure(task.ID, FailureQualityRejected)

	if decision.RequiresFixup && !task.IsFixup() && !o.fixupInserted(task.ID) {
		instructions := strings.Join(decision.Reasons, "; ")
		if instructions == "" {
			instructions = "quality gate rejected the result"
		}
		fixup := NewFixupTask(task, instructions)
		// The flawed output stays on disk; the task completes so the fixup
		// and downstream work can run against it.
		if err := o.queue.MarkCompleted(task.ID); err == nil {
			if err := o.queue.InsertFixup(fixup); err == nil {
				o.markFixupInserted(task.ID)
				o.storeResult(task.ID, result)
				o.bus.Emit(newEvent(EventInfo, fixup.ID, "", "Fixup inserted for "+task.ID, nil))
				return
			}
		}
	}

	o.storeResult(task.ID, result)
	o.bus.Emit(newEvent(EventFail, task.ID, "", "Quality gate rejected result", &FailPayload{
		FailureMode: FailureQualityRejected,
		Attempt:     attempts,
	}))
	o.failTask(task.ID)
}

// autoSplit replaces a struggling task with LLM-produced sub-tasks. Returns
// false when no usable split could be produced; the caller then fails the
// task normally.
func (o *Orchestrator) autoSplit(ctx context.Context, task *SwarmTask) bool {
	if o.provider == nil {
		return false
	}

	runCtx, cancel := o.root.ContextFrom(ctx)
	defer cancel()
	resp, err := o.provider.Chat(runCtx, []providers.Message{
		{Role: "user", Content: buildSplitUserPrompt(task, o.failureEvidence(task.ID))},
	}, providers.ChatOptions{
		Model:          o.cfg.OrchestratorModel,
		System:         splitSystemPrompt,
		ResponseFormat: "json",
		MaxTokens:      2048,
	})
	if err != nil {
		return false
	}
	parsed, err := parseDecomposition(resp.Content)
	if err != nil || len(parsed.Tasks) < 2 || len(parsed.Tasks) > 4 {
		return false
	}

	for _, sub := range parsed.Tasks {
		sub.ID = newTaskID()
		if sub.Complexity >= task.Complexity {
			sub.Complexity = task.Complexity - 1
		}
		if sub.Complexity < 1 {
			sub.Complexity = 1
		}
		sub.Dependencies = nil // inherit the original's deps only
	}
	if err := o.queue.Decompose(task.ID, parsed.Tasks); err != nil {
		logger.WarnCF("swarm", "Auto-split rejected", map[string]any{"task": task.ID, "error": err.Error()})
		return false
	}
	o.bus.Emit(newEvent(EventInfo, task.ID, "", fmt.Sprintf("Auto-split into %d sub-tasks", len(parsed.Tasks)), nil))
	return true
}

// replan asks the provider for a repaired graph for the remaining tasks and
// merges new tasks in by ID. Runs at most once per run.
func (o *Orchestrator) replan(ctx context.Context) {
	o.setPhase(PhaseReplanning)
	defer o.setPhase(PhaseExecuting)

	if o.provider == nil {
		return
	}

	tasks := o.queue.Tasks()
	runCtx, cancel := o.root.ContextFrom(ctx)
	defer cancel()
	resp, err := o.provider.Chat(runCtx, []providers.Message{
		{Role: "user", Content: buildReplanUserPrompt(o.goal, tasks)},
	}, providers.ChatOptions{
		Model:          o.cfg.OrchestratorModel,
		System:         replanSystemPrompt,
		ResponseFormat: "json",
		MaxTokens:      4096,
	})
	if err != nil {
		logger.WarnCF("swarm", "Replan call failed", map[string]any{"error": err.Error()})
		return
	}
	parsed, err := parseDecomposition(resp.Content)
	if err != nil {
		logger.WarnCF("swarm", "Replan parse failed", map[string]any{"error": err.Error()})
		return
	}

	// Merge by ID: only genuinely new tasks are ingested; existing tasks
	// keep their state and edges.
	var fresh []*SwarmTask
	for _, t := range parsed.Tasks {
		if o.queue.Get(t.ID) == nil {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		return
	}
	if err := o.queue.Ingest(fresh); err != nil {
		logger.WarnCF("swarm", "Replan ingest rejected", map[string]any{"error": err.Error()})
		return
	}
	o.bus.Emit(newEvent(EventInfo, "", "", fmt.Sprintf("Replan added %d tasks", len(fresh)), nil))
}

// reportGlobalLoops surfaces cross-worker doom loops once per fingerprint.
// The signal feeds retry prompts and dashboards; stopping a looping worker
// is the adapter's call, it sees the same tracker.
func (o *Orchestrator) reportGlobalLoops() {
	for _, loop := range o.economics.GetGlobalLoops() {
		o.mu.Lock()
		seen := o.doomSeen[loop.Fingerprint]
		o.doomSeen[loop.Fingerprint] = true
		o.mu.Unlock()
		if seen {
			continue
		}
		o.bus.Emit(newEvent(EventInfo, "", "",
			fmt.Sprintf("Global doom loop: %d workers repeated call %s %d times",
				len(loop.Workers), loop.Fingerprint, loop.Total), nil))
	}
}

// rescueSkipped re-promotes skipped tasks that already produced artifacts in
// an earlier attempt. One rescue per task, enforced by the queue.
func (o *Orchestrator) rescueSkipped() {
	for _, t := range o.queue.Tasks() {
		if t.Status != TaskSkipped {
			continue
		}
		o.mu.Lock()
		prior := o.results[t.ID]
		o.mu.Unlock()
		if prior == nil || len(prior.ArtifactsChanged) == 0 {
			continue
		}
		if o.queue.RescueSkipped(t.ID) {
			o.bus.Emit(newEvent(EventInfo, t.ID, "", "Rescued skipped task with prior artifacts", nil))
		}
	}
}

// verify runs the advisory post-run check over completed tasks.
func (o *Orchestrator) verify(ctx context.Context) []VerificationResult {
	var out []VerificationResult
	for _, task := range o.queue.Tasks() {
		if task.Status != TaskCompleted {
			continue
		}
		o.mu.Lock()
		result := o.results[task.ID]
		o.mu.Unlock()
		if result == nil {
			continue
		}

		runCtx, cancel := o.root.ContextFrom(ctx)
		resp, err := o.provider.Chat(runCtx, []providers.Message{
			{Role: "user", Content: buildVerifyUserPrompt(task, result)},
		}, providers.ChatOptions{
			Model:          o.cfg.OrchestratorModel,
			System:         verifySystemPrompt,
			ResponseFormat: "json",
			MaxTokens:      512,
		})
		cancel()
		if err != nil {
			continue
		}

		var v struct {
			Passed bool   `json:"passed"`
			Notes  string `json:"notes"`
		}
		raw := extractFirstJSONObject(resp.Content)
		if raw == "" || json.Unmarshal([]byte(raw), &v) != nil {
			continue
		}
		out = append(out, VerificationResult{TaskID: task.ID, Passed: v.Passed, Notes: v.Notes})
	}
	return out
}

// synthesize asks the provider for the final user-facing summary.
func (o *Orchestrator) synthesize(ctx context.Context, result *SwarmExecutionResult) string {
	o.mu.Lock()
	results := make(map[string]*SwarmTaskResult, len(o.results))
	for id, r := range o.results {
		results[id] = r
	}
	o.mu.Unlock()

	runCtx, cancel := o.root.ContextFrom(ctx)
	defer cancel()
	resp, err := o.provider.Chat(runCtx, []providers.Message{
		{Role: "user", Content: buildSynthesisUserPrompt(o.goal, results, o.queue.Tasks())},
	}, providers.ChatOptions{
		Model:     o.cfg.OrchestratorModel,
		System:    synthesisSystemPrompt,
		MaxTokens: 2048,
	})
	if err != nil {
		return ""
	}
	return resp.Content
}

// finish assembles the SwarmExecutionResult from current state.
func (o *Orchestrator) finish(started time.Time, success bool, reason string) *SwarmExecutionResult {
	o.mu.Lock()
	taskResults := make(map[string]*SwarmTaskResult, len(o.results))
	for id, r := range o.results {
		taskResults[id] = r
	}
	o.mu.Unlock()

	stats := o.queue.Stats()

	artifactSet := make(map[string]bool)
	totalTokens, totalCost := 0, 0.0
	for id, r := range taskResults {
		totalTokens += r.TokensUsed
		totalCost += r.CostUSD
		// Skipped tasks' artifacts are persisted but excluded from the
		// success tally.
		task := o.queue.Get(id)
		if task != nil && task.Status == TaskCompleted {
			for _, a := range r.ArtifactsChanged {
				artifactSet[a] = true
			}
		}
	}
	artifacts := make([]string, 0, len(artifactSet))
	for a := range artifactSet {
		artifacts = append(artifacts, a)
	}
	sort.Strings(artifacts)

	o.mu.Lock()
	waves := o.currentWave
	o.mu.Unlock()

	result := &SwarmExecutionResult{
		Success:     success,
		Reason:      reason,
		TaskResults: taskResults,
		Stats: SwarmStats{
			TasksCompleted: stats.Completed,
			TasksFailed:    stats.Failed,
			TasksSkipped:   stats.Skipped,
			TotalTokens:    totalTokens,
			TotalCostUSD:   totalCost,
			Waves:          waves,
		},
		Artifacts:  artifacts,
		DurationMs: time.Since(started).Milliseconds(),
	}

	if o.store != nil {
		if err := o.store.FinishRun(o.runID, result); err != nil {
			logger.WarnCF("swarm", "Run store finish failed", map[string]any{"error": err.Error()})
		}
	}
	return result
}

// Snapshot captures the full run state for persistence.
func (o *Orchestrator) Snapshot() *SwarmCheckpoint {
	o.mu.Lock()
	phase := o.phase
	o.mu.Unlock()
	return &SwarmCheckpoint{
		RunID:     o.runID,
		Phase:     phase,
		Goal:      o.goal,
		Queue:     o.queue.Snapshot(),
		Economics: o.economics.Snapshot(),
		Budget:    o.budget.Snapshot(),
		Events:    o.bus.Recent(64),
	}
}

// Restore rehydrates queue, economics, and budget state from a checkpoint.
// Dispatched tasks demote to ready inside the queue restore.
func (o *Orchestrator) Restore(cp *SwarmCheckpoint) error {
	if err := o.queue.Restore(cp.Queue); err != nil {
		return err
	}
	o.economics.Restore(cp.Economics)
	o.budget.Restore(cp.Budget)
	o.mu.Lock()
	o.runID = cp.RunID
	o.goal = cp.Goal
	o.phase = cp.Phase
	o.mu.Unlock()
	return nil
}

// --- small helpers ---

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.bus.Emit(newEvent(EventPhase, "", "", string(p), &PhasePayload{Phase: p}))
}

func (o *Orchestrator) storeResult(taskID string, result *SwarmTaskResult) {
	o.mu.Lock()
	o.results[taskID] = result
	o.mu.Unlock()
}

func (o *Orchestrator) recordFailure(taskID string, mode FailureMode) {
	o.mu.Lock()
	o.lastFailures[taskID] = mode
	o.mu.Unlock()
}

func (o *Orchestrator) fixupInserted(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fixedUp[taskID]
}

func (o *Orchestrator) markFixupInserted(taskID string) {
	o.mu.Lock()
	o.fixedUp[taskID] = true
	o.mu.Unlock()
}

func (o *Orchestrator) failTask(taskID string) {
	if err := o.queue.MarkFailed(taskID); err != nil {
		logger.WarnCF("swarm", "Failure transition failed", map[string]any{"task": taskID, "error": err.Error()})
	}
}

// failureEvidence renders a task's failure history for retry prompts.
func (o *Orchestrator) failureEvidence(taskID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	prior := o.results[taskID]
	mode := o.lastFailures[taskID]
	if prior == nil && mode == FailureNone {
		return ""
	}
	var sb strings.Builder
	if mode != FailureNone {
		fmt.Fprintf(&sb, "Last failure mode: %s\n", mode)
	}
	if prior != nil && prior.Response != "" {
		sb.WriteString("Last attempt output:\n")
		sb.WriteString(truncateForPrompt(prior.Response, 1500))
	}
	return sb.String()
}

// releaseOutstanding lets in-flight allocations drain; called when a run
// ends abruptly so the pool's books close.
func (o *Orchestrator) releaseOutstanding() {
	for _, w := range o.pool.WorkerStatuses() {
		o.budget.Release(w.WorkerID, -1)
	}
}

// sleepCancellable sleeps for d unless the run is cancelled first. Returns
// false on cancellation.
func (o *Orchestrator) sleepCancellable(d time.Duration) bool {
	if d <= 0 {
		return !o.root.IsCancelled()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-o.root.Done():
		return false
	}
}

func (o *Orchestrator) writeManifest() {
	if o.cfg.RunRoot == "" {
		return
	}
	ids := make([]string, 0)
	for _, t := range o.queue.Tasks() {
		ids = append(ids, t.ID)
	}
	err := WriteManifest(o.cfg.RunRoot, &RunManifest{
		RunID:            o.runID,
		Goal:             o.goal,
		CreatedAt:        time.Now().UnixMilli(),
		Budget:           o.cfg.Budget,
		ConflictStrategy: o.cfg.ConflictStrategy,
		TaskIDs:          ids,
	})
	if err != nil {
		logger.WarnCF("swarm", "Manifest write failed", map[string]any{"error": err.Error()})
	}
}

func (o *Orchestrator) checkpoint() {
	if o.cfg.RunRoot == "" {
		return
	}
	o.mu.Lock()
	failures := make(map[string]FailureMode, len(o.lastFailures))
	for id, m := range o.lastFailures {
		failures[id] = m
	}
	o.mu.Unlock()
	if err := WriteCheckpoint(o.cfg.RunRoot, o.Snapshot(), failures); err != nil {
		logger.WarnCF("swarm", "Checkpoint write failed", map[string]any{"error": err.Error()})
	}
}

func (o *Orchestrator) persistTask(task *SwarmTask, result *SwarmTaskResult, decision *GateDecision) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveTaskResult(o.runID, task, result, decision.Score); err != nil {
		logger.WarnCF("swarm", "Run store task save failed", map[string]any{"task": task.ID, "error": err.Error()})
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
