// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

// Package providers defines the LLM provider boundary consumed by the swarm
// core, plus concrete adapters for the Anthropic and OpenAI SDKs.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// ChatOptions carries per-call tuning. Zero values mean "provider default".
type ChatOptions struct {
	Model          string   `json:"model,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	System         string   `json:"system,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"` // "" or "json"
}

// Usage reports token accounting for a single call.
type Usage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	Cost                float64 `json:"cost"`
}

// TotalTokens is the sum of input and output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatResponse is the normalized provider reply.
type ChatResponse struct {
	Content    string     `json:"content"`
	Usage      Usage      `json:"usage"`
	StopReason string     `json:"stop_reason"` // stop | length | tool_calls
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Provider is the single inbound LLM interface the swarm core depends on.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)
}

// ProviderError classifies a provider failure for the caller.
type ProviderError struct {
	Retryable  bool
	StatusCode int
	Reason     string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error (%s, status=%d, retryable=%v): %v",
			e.Reason, e.StatusCode, e.Retryable, e.Err)
	}
	return fmt.Sprintf("provider error (%s, status=%d, retryable=%v)",
		e.Reason, e.StatusCode, e.Retryable)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(status int) bool {
	switch {
	case status == 408 || status == 429:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// NewProviderError wraps err with classification derived from the HTTP status.
func NewProviderError(status int, reason string, err error) *ProviderError {
	return &ProviderError{
		Retryable:  retryableStatus(status),
		StatusCode: status,
		Reason:     reason,
		Err:        err,
	}
}
