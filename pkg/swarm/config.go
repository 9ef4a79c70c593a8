// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// BudgetPriority is the priority class used for budget multipliers.
type BudgetPriority string

const (
	PriorityCritical BudgetPriority = "critical"
	PriorityHigh     BudgetPriority = "high"
	PriorityNormal   BudgetPriority = "normal"
	PriorityLow      BudgetPriority = "low"
)

// budgetPriorityForTask maps the task's 1..3 priority onto a budget class.
func budgetPriorityForTask(priority int) BudgetPriority {
	switch priority {
	case 1:
		return PriorityCritical
	case 2:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// ConflictStrategy picks how the queue treats target-file overlap in a wave.
type ConflictStrategy string

const (
	ConflictSerialize ConflictStrategy = "serialize"
	ConflictFirstWins ConflictStrategy = "first-wins"
)

// TaskTypeConfig tunes acceptance and recovery per task type.
type TaskTypeConfig struct {
	AcceptanceThreshold float64 `json:"acceptance_threshold"`
	RetryLimit          int     `json:"retry_limit"`
	AutoSplitComplexity int     `json:"auto_split_complexity"`
	DegradedAcceptable  bool    `json:"degraded_acceptable"`
	RequiresArtifacts   bool    `json:"requires_artifacts"`
}

// BudgetConfig configures the shared budget pool.
type BudgetConfig struct {
	ParentTotal         int                        `json:"parent_total" env:"ATTOCODE_SWARM_BUDGET_TOTAL"`
	ReservePercent      float64                    `json:"reserve_percent" env:"ATTOCODE_SWARM_BUDGET_RESERVE"`
	MaxPerChild         int                        `json:"max_per_child" env:"ATTOCODE_SWARM_BUDGET_MAX_CHILD"`
	MinAllocation       int                        `json:"min_allocation" env:"ATTOCODE_SWARM_BUDGET_MIN_ALLOC"`
	PriorityMultipliers map[BudgetPriority]float64 `json:"priority_multipliers"`
}

// SwarmConfig is the process-wide run configuration, immutable once a run
// starts. Env tags allow overrides without touching the config file.
type SwarmConfig struct {
	OrchestratorModel string `json:"orchestrator_model" env:"ATTOCODE_SWARM_MODEL"`
	WorkerModel       string `json:"worker_model" env:"ATTOCODE_SWARM_WORKER_MODEL"`

	MaxConcurrent int `json:"max_concurrent" env:"ATTOCODE_SWARM_MAX_CONCURRENT"`

	ConflictStrategy   ConflictStrategy `json:"conflict_strategy" env:"ATTOCODE_SWARM_CONFLICT_STRATEGY"`
	UseJudge           bool             `json:"use_judge" env:"ATTOCODE_SWARM_USE_JUDGE"`
	FixupCountsAsRetry bool             `json:"fixup_counts_as_retry" env:"ATTOCODE_SWARM_FIXUP_RETRY"`

	BaseTimeoutMs      int64 `json:"base_timeout_ms" env:"ATTOCODE_SWARM_BASE_TIMEOUT_MS"`
	WaveTimeoutSlackMs int64 `json:"wave_timeout_slack_ms"`
	GraceDeadlineMs    int64 `json:"grace_deadline_ms"`

	CircuitBreakerWindowMs  int64 `json:"circuit_breaker_window_ms"`
	CircuitBreakerThreshold int   `json:"circuit_breaker_threshold"`
	CircuitBreakerPauseMs   int64 `json:"circuit_breaker_pause_ms"`
	StaggerCapMs            int64 `json:"stagger_cap_ms"`

	GlobalDoomThreshold int `json:"global_doom_threshold"`
	ReplanStallTicks    int `json:"replan_stall_ticks"`

	Budget    BudgetConfig                `json:"budget"`
	TaskTypes map[TaskType]TaskTypeConfig `json:"task_types,omitempty"`

	// RunRoot is where swarm.state.json, manifest.json and per-task
	// checkpoints are written. Empty disables on-disk artifacts.
	RunRoot      string `json:"run_root,omitempty" env:"ATTOCODE_SWARM_RUN_ROOT"`
	EventLogPath string `json:"event_log_path,omitempty" env:"ATTOCODE_SWARM_EVENT_LOG"`

	// Verify enables the advisory post-run verification pass.
	Verify bool `json:"verify" env:"ATTOCODE_SWARM_VERIFY"`
}

// builtinTaskTypes is the fixed acceptance/retry table per task type.
var builtinTaskTypes = map[TaskType]TaskTypeConfig{
	TaskImplement:     {AcceptanceThreshold: 0.75, RetryLimit: 2, AutoSplitComplexity: 4, DegradedAcceptable: true, RequiresArtifacts: true},
	TaskResearch:      {AcceptanceThreshold: 0.60, RetryLimit: 1, AutoSplitComplexity: 5, DegradedAcceptable: true, RequiresArtifacts: false},
	TaskReview:        {AcceptanceThreshold: 0.70, RetryLimit: 1, AutoSplitComplexity: 5, DegradedAcceptable: false, RequiresArtifacts: false},
	TaskTest:          {AcceptanceThreshold: 0.70, RetryLimit: 1, AutoSplitComplexity: 5, DegradedAcceptable: false, RequiresArtifacts: false},
	TaskRefactor:      {AcceptanceThreshold: 0.75, RetryLimit: 2, AutoSplitComplexity: 4, DegradedAcceptable: true, RequiresArtifacts: true},
	TaskDesign:        {AcceptanceThreshold: 0.65, RetryLimit: 1, AutoSplitComplexity: 5, DegradedAcceptable: true, RequiresArtifacts: false},
	TaskFix:           {AcceptanceThreshold: 0.70, RetryLimit: 2, AutoSplitComplexity: 4, DegradedAcceptable: true, RequiresArtifacts: true},
	TaskIntegrate:     {AcceptanceThreshold: 0.75, RetryLimit: 2, AutoSplitComplexity: 4, DegradedAcceptable: true, RequiresArtifacts: true},
	TaskDocumentation: {AcceptanceThreshold: 0.60, RetryLimit: 1, AutoSplitComplexity: 5, DegradedAcceptable: true, RequiresArtifacts: true},
}

// DefaultSwarmConfig returns the built-in configuration.
func DefaultSwarmConfig() SwarmConfig {
	taskTypes := make(map[TaskType]TaskTypeConfig, len(builtinTaskTypes))
	for k, v := range builtinTaskTypes {
		taskTypes[k] = v
	}

	return SwarmConfig{
		OrchestratorModel: "claude-sonnet-4-5",
		WorkerModel:       "claude-sonnet-4-5",
		MaxConcurrent:     DefaultMaxConcurrent,
		ConflictStrategy:  ConflictSerialize,
		UseJudge:          true,

		BaseTimeoutMs:      DefaultBaseTimeoutMs,
		WaveTimeoutSlackMs: WaveTimeoutSlackMs,
		GraceDeadlineMs:    DefaultGraceDeadlineMs,

		CircuitBreakerWindowMs:  CircuitBreakerWindowMs,
		CircuitBreakerThreshold: CircuitBreakerThreshold,
		CircuitBreakerPauseMs:   CircuitBreakerPauseMs,
		StaggerCapMs:            DefaultStaggerCapMs,

		GlobalDoomThreshold: DefaultGlobalDoomThreshold,
		ReplanStallTicks:    DefaultReplanStallTicks,

		Budget: BudgetConfig{
			ParentTotal:    1_000_000,
			ReservePercent: DefaultReservePercent,
			MaxPerChild:    200_000,
			MinAllocation:  DefaultMinAllocation,
			PriorityMultipliers: map[BudgetPriority]float64{
				PriorityCritical: 1.5,
				PriorityHigh:     1.25,
				PriorityNormal:   1.0,
				PriorityLow:      0.75,
			},
		},
		TaskTypes: taskTypes,
	}
}

// LoadSwarmConfigFromEnv applies ATTOCODE_SWARM_* env overrides on top of
// the defaults.
func LoadSwarmConfigFromEnv() (SwarmConfig, error) {
	cfg := DefaultSwarmConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing swarm env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TaskTypeConfigFor resolves the table entry for a type, falling back to the
// implement profile for unknown types.
func (c *SwarmConfig) TaskTypeConfigFor(t TaskType) TaskTypeConfig {
	if tc, ok := c.TaskTypes[t]; ok {
		return tc
	}
	return builtinTaskTypes[TaskImplement]
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *SwarmConfig) Validate() error {
	if c.Budget.ParentTotal <= 0 {
		return fmt.Errorf("%w: budget parent_total must be positive", ErrConfiguration)
	}
	if c.Budget.ReservePercent < 0 || c.Budget.ReservePercent >= 1 {
		return fmt.Errorf("%w: budget reserve_percent must be in [0,1)", ErrConfiguration)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: max_concurrent must be positive", ErrConfiguration)
	}
	switch c.ConflictStrategy {
	case ConflictSerialize, ConflictFirstWins:
	default:
		return fmt.Errorf("%w: unknown conflict strategy %q", ErrConfiguration, c.ConflictStrategy)
	}
	return nil
}
