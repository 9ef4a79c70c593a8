// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"encoding/json"
	"time"
)

// EventType enumerates the swarm event taxonomy.
type EventType string

const (
	EventSpawn          EventType = "spawn"
	EventClaim          EventType = "claim"
	EventWrite          EventType = "write"
	EventConflict       EventType = "conflict"
	EventComplete       EventType = "complete"
	EventFail           EventType = "fail"
	EventSkip           EventType = "skip"
	EventBudget         EventType = "budget"
	EventInfo           EventType = "info"
	EventWaveStart      EventType = "wave.start"
	EventWaveEnd        EventType = "wave.end"
	EventWaveReview     EventType = "wave.review"
	EventPhase          EventType = "phase"
	EventRateLimit      EventType = "rate_limit"
	EventCircuitBreaker EventType = "circuit_breaker"
)

// SwarmEvent is one occurrence on the bus. Payload carries the typed
// per-variant struct; Data is its generic map form, kept for JSONL
// persistence and ad-hoc consumers.
type SwarmEvent struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`

	Payload any `json:"-"`
}

// Typed event payloads (one per variant that carries structure).

type SpawnPayload struct {
	WorkerID string `json:"worker_id"`
	Model    string `json:"model"`
	Attempt  int    `json:"attempt"`
	Budget   int    `json:"budget"`
}

type ClaimPayload struct {
	Paths []string `json:"paths,omitempty"`
}

type WritePayload struct {
	Path     string `json:"path"`
	BaseHash string `json:"base_hash,omitempty"`
	NewHash  string `json:"new_hash"`
}

type ConflictPayload struct {
	Path        string `json:"path"`
	BaseHash    string `json:"base_hash"`
	CurrentHash string `json:"current_hash"`
}

type CompletePayload struct {
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
	Score      float64 `json:"score"`
	Degraded   bool    `json:"degraded"`
}

type FailPayload struct {
	FailureMode FailureMode `json:"failure_mode"`
	Attempt     int         `json:"attempt"`
	WillRetry   bool        `json:"will_retry"`
}

type SkipPayload struct {
	BlockedBy string `json:"blocked_by"`
}

type BudgetPayload struct {
	Stats BudgetPoolStats `json:"stats"`
}

type WavePayload struct {
	Wave  int      `json:"wave"`
	Tasks []string `json:"tasks,omitempty"`
}

type PhasePayload struct {
	Phase Phase `json:"phase"`
}

type RateLimitPayload struct {
	Model string `json:"model,omitempty"`
}

type BreakerPayload struct {
	Active  bool  `json:"active"`
	PauseMs int64 `json:"pause_ms,omitempty"`
}

// newEvent builds a SwarmEvent with the payload mirrored into Data.
func newEvent(eventType EventType, taskID, agentID, message string, payload any) SwarmEvent {
	e := SwarmEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		AgentID:   agentID,
		Message:   message,
		Payload:   payload,
	}
	if payload != nil {
		e.Data = payloadToMap(payload)
	}
	return e
}

// payloadToMap round-trips a payload struct through JSON into a map.
func payloadToMap(payload any) map[string]any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
