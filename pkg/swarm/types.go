// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskType classifies what kind of work a task is. The task-type table in
// the config keys acceptance thresholds and retry limits off this.
type TaskType string

const (
	TaskImplement     TaskType = "implement"
	TaskResearch      TaskType = "research"
	TaskReview        TaskType = "review"
	TaskTest          TaskType = "test"
	TaskRefactor      TaskType = "refactor"
	TaskDesign        TaskType = "design"
	TaskFix           TaskType = "fix"
	TaskIntegrate     TaskType = "integrate"
	TaskDocumentation TaskType = "documentation"
)

// TaskStatus is the task lifecycle state machine.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskReady      TaskStatus = "ready"
	TaskDispatched TaskStatus = "dispatched"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
	TaskDecomposed TaskStatus = "decomposed" // replaced by auto-split sub-tasks
)

// Terminal reports whether a status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskDecomposed:
		return true
	}
	return false
}

// SwarmTask is a single unit of work in the dependency graph.
//
// A fixup task is a SwarmTask whose FixesTaskID is set; it exists solely to
// repair a prior task's output and always depends on that task.
type SwarmTask struct {
	ID                   string            `json:"id"`
	Description          string            `json:"description"`
	Type                 TaskType          `json:"type"`
	Complexity           int               `json:"complexity"` // 1..5
	Dependencies         []string          `json:"dependencies,omitempty"`
	TargetFiles          []string          `json:"target_files,omitempty"`
	Priority             int               `json:"priority"` // 1 (highest) .. 3
	Status               TaskStatus        `json:"status"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	AcceptanceCriteria   []string          `json:"acceptance_criteria,omitempty"`
	RequiredCapabilities []Capability      `json:"required_capabilities,omitempty"`

	// Fixup fields, set only when this task repairs another task's output.
	FixesTaskID     string `json:"fixes_task_id,omitempty"`
	FixInstructions string `json:"fix_instructions,omitempty"`
}

// NewSwarmTask creates a task with sensible defaults: normal priority,
// middling complexity, pending status.
func NewSwarmTask(taskType TaskType, description string) *SwarmTask {
	return &SwarmTask{
		ID:          newTaskID(),
		Description: description,
		Type:        taskType,
		Complexity:  3,
		Priority:    2,
		Status:      TaskPending,
		Metadata:    make(map[string]string),
	}
}

// NewFixupTask creates a task that repairs the output of fixes. The
// dependency edge to the broken task is added by the queue on insertion.
func NewFixupTask(fixes *SwarmTask, instructions string) *SwarmTask {
	t := NewSwarmTask(TaskFix, fmt.Sprintf("Fix output of task %s: %s", fixes.ID, instructions))
	t.Complexity = fixes.Complexity
	t.Priority = fixes.Priority
	t.TargetFiles = append([]string(nil), fixes.TargetFiles...)
	t.FixesTaskID = fixes.ID
	t.FixInstructions = instructions
	return t
}

// IsFixup reports whether the task repairs another task's output.
func (t *SwarmTask) IsFixup() bool { return t.FixesTaskID != "" }

// FailureMode buckets worker failures for recovery and model health.
type FailureMode string

const (
	FailureNone            FailureMode = ""
	FailureRateLimit       FailureMode = "rate_limit"
	FailureTimeout         FailureMode = "timeout"
	FailureContextOverflow FailureMode = "context_overflow"
	FailureQualityRejected FailureMode = "quality_rejection"
	FailureGeneric         FailureMode = "generic_failure"
	FailureToolError       FailureMode = "tool_error"
	FailureCancelled       FailureMode = "cancelled"
)

// Transient reports whether the failure is worth a retry.
func (m FailureMode) Transient() bool {
	switch m {
	case FailureRateLimit, FailureTimeout, FailureGeneric, FailureToolError:
		return true
	}
	return false
}

// SwarmTaskResult is the outcome of one task execution.
type SwarmTaskResult struct {
	TaskID                  string      `json:"task_id"`
	Success                 bool        `json:"success"`
	Response                string      `json:"response,omitempty"`
	ArtifactsChanged        []string    `json:"artifacts_changed,omitempty"`
	ConflictPaths           []string    `json:"conflict_paths,omitempty"`
	TokensUsed              int         `json:"tokens_used"`
	CostUSD                 float64     `json:"cost_usd"`
	DurationMs              int64       `json:"duration_ms"`
	FailureMode             FailureMode `json:"failure_mode,omitempty"`
	AcceptedWithDegradation bool        `json:"accepted_with_degradation,omitempty"`
	Skipped                 bool        `json:"skipped,omitempty"`
}

// Capability names a skill a worker can provide.
type Capability string

const (
	CapCode          Capability = "code"
	CapResearch      Capability = "research"
	CapReview        Capability = "review"
	CapTest          Capability = "test"
	CapDesign        Capability = "design"
	CapDocumentation Capability = "documentation"
)

// WorkerRole is the coarse role a worker spec plays in the pool.
type WorkerRole string

const (
	RoleCoder      WorkerRole = "coder"
	RoleResearcher WorkerRole = "researcher"
	RoleReviewer   WorkerRole = "reviewer"
	RoleTester     WorkerRole = "tester"
	RoleDesigner   WorkerRole = "designer"
)

// SwarmWorkerSpec describes a worker flavor available to the pool.
type SwarmWorkerSpec struct {
	WorkerID       string       `json:"worker_id"`
	Model          string       `json:"model"`
	Role           WorkerRole   `json:"role"`
	Capabilities   []Capability `json:"capabilities"`
	MaxConcurrency int          `json:"max_concurrency"`
}

// HasCapabilities reports whether the spec covers every wanted capability.
func (s *SwarmWorkerSpec) HasCapabilities(wanted []Capability) bool {
	for _, w := range wanted {
		found := false
		for _, c := range s.Capabilities {
			if c == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// WorkerState is the live status of a spawned worker.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerClaiming WorkerState = "claiming"
	WorkerRunning  WorkerState = "running"
	WorkerDone     WorkerState = "done"
	WorkerError    WorkerState = "error"
)

// SwarmWorkerStatus is a point-in-time view of one worker.
type SwarmWorkerStatus struct {
	WorkerID   string      `json:"worker_id"`
	Status     WorkerState `json:"status"`
	TaskID     string      `json:"task_id,omitempty"`
	StartedAt  int64       `json:"started_at,omitempty"`
	ElapsedMs  int64       `json:"elapsed_ms,omitempty"`
	TokensUsed int         `json:"tokens_used,omitempty"`
}

// QueueStats counts tasks by lifecycle state.
type QueueStats struct {
	Pending    int `json:"pending"`
	Ready      int `json:"ready"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Decomposed int `json:"decomposed"`
}

// NonTerminal is the number of tasks still in flight or waiting.
func (s QueueStats) NonTerminal() int {
	return s.Pending + s.Ready + s.Running
}

// SwarmStatus is a full snapshot of a run in progress.
type SwarmStatus struct {
	Phase       Phase               `json:"phase"`
	CurrentWave int                 `json:"current_wave"`
	TotalWaves  int                 `json:"total_waves"`
	Queue       QueueStats          `json:"queue"`
	Workers     []SwarmWorkerStatus `json:"workers,omitempty"`
	Budget      BudgetPoolStats     `json:"budget"`
}

// BudgetAllocation is one child's reservation against the shared pool.
type BudgetAllocation struct {
	WorkerID        string `json:"worker_id"`
	TaskID          string `json:"task_id"`
	AllocatedTokens int    `json:"allocated_tokens"`
	UsedTokens      int    `json:"used_tokens"`
	ReturnedAt      int64  `json:"returned_at,omitempty"`
}

// Returned reports whether the allocation has been released back to the pool.
func (a *BudgetAllocation) Returned() bool { return a.ReturnedAt != 0 }

// FileVersion is a snapshot of a file's content used for OCC writes.
type FileVersion struct {
	Path            string `json:"path"`
	ContentSnapshot string `json:"content_snapshot"`
	VersionHash     string `json:"version_hash"`
	ReaderAgentID   string `json:"reader_agent_id"`
}

// WriteResult reports the outcome of an optimistic-concurrency write.
type WriteResult struct {
	Success     bool   `json:"success"`
	Conflict    bool   `json:"conflict"`
	BaseHash    string `json:"base_hash,omitempty"`
	CurrentHash string `json:"current_hash,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ModelHealthRecord tracks per-model outcome counters for worker selection.
type ModelHealthRecord struct {
	Model             string  `json:"model"`
	Successes         int     `json:"successes"`
	Failures          int     `json:"failures"`
	RateLimits        int     `json:"rate_limits"`
	QualityRejections int     `json:"quality_rejections"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	Healthy           bool    `json:"healthy"`
}

// GraphEdge is a single dependency edge, exposed for visualization.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SmartDecompositionResult is the parsed output of the decomposition call.
type SmartDecompositionResult struct {
	Tasks     []*SwarmTask `json:"tasks"`
	Strategy  string       `json:"strategy,omitempty"`
	Reasoning string       `json:"reasoning,omitempty"`
}

// VerificationResult is an advisory post-run check of one completed task.
// Verification never revokes acceptance already granted.
type VerificationResult struct {
	TaskID string `json:"task_id"`
	Passed bool   `json:"passed"`
	Notes  string `json:"notes,omitempty"`
}

// SwarmStats aggregates run totals for the final result.
type SwarmStats struct {
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	TasksSkipped   int     `json:"tasks_skipped"`
	TotalTokens    int     `json:"total_tokens"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	Waves          int     `json:"waves"`
}

// Run failure reasons surfaced on SwarmExecutionResult.
const (
	ReasonEmpty       = "empty"
	ReasonBudget      = "budget"
	ReasonCancelled   = "cancelled"
	ReasonFailedTasks = "failed_tasks"
	ReasonConfig      = "config"
	ReasonInternal    = "internal"
)

// SwarmExecutionResult is what every run returns, success or not.
type SwarmExecutionResult struct {
	Success       bool                        `json:"success"`
	Reason        string                      `json:"reason,omitempty"`
	Summary       string                      `json:"summary,omitempty"`
	TaskResults   map[string]*SwarmTaskResult `json:"task_results"`
	Verifications []VerificationResult        `json:"verifications,omitempty"`
	Stats         SwarmStats                  `json:"stats"`
	Artifacts     []string                    `json:"artifacts,omitempty"`
	DurationMs    int64                       `json:"duration_ms"`
}

// WorkerSpawnSpec is the request handed to the external worker adapter.
type WorkerSpawnSpec struct {
	Task         *SwarmTask   `json:"task"`
	SystemPrompt string       `json:"system_prompt"`
	Budget       int          `json:"budget"` // token cap for this child
	Capabilities []Capability `json:"capabilities,omitempty"`
	WorkingDir   string       `json:"working_dir,omitempty"`
	Model        string       `json:"model"`
	Cancel       *CancelToken `json:"-"`
}

// SpawnResult is the raw outcome reported by the worker adapter.
// ConflictPaths names the files whose optimistic writes were rejected, so
// recovery can track per-path conflict streaks.
type SpawnResult struct {
	Success          bool        `json:"success"`
	Response         string      `json:"response,omitempty"`
	ArtifactsChanged []string    `json:"artifacts_changed,omitempty"`
	ConflictPaths    []string    `json:"conflict_paths,omitempty"`
	TokensUsed       int         `json:"tokens_used"`
	CostUSD          float64     `json:"cost_usd"`
	DurationMs       int64       `json:"duration_ms"`
	FailureMode      FailureMode `json:"failure_mode,omitempty"`
	RawError         string      `json:"raw_error,omitempty"`
}

// SpawnAgentFunc is the external worker adapter: it runs one task to
// completion inside a fresh LLM-backed subprocess.
type SpawnAgentFunc func(spec *WorkerSpawnSpec) *SpawnResult

func newTaskID() string {
	return fmt.Sprintf("task-%s", uuid.New().String()[:8])
}

func newWorkerID() string {
	return fmt.Sprintf("worker-%s", uuid.New().String()[:8])
}

func newRunID() string {
	return fmt.Sprintf("run-%s", uuid.New().String()[:8])
}
