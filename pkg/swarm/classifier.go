// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import "strings"

// FailureClassifier buckets a raw worker outcome into a FailureMode.
// Pluggable so embedders with richer adapter errors can classify precisely.
type FailureClassifier interface {
	Classify(res *SpawnResult) FailureMode
}

// HeuristicClassifier is the default: it trusts an explicit mode from the
// adapter and otherwise pattern-matches the raw error text.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(res *SpawnResult) FailureMode {
	if res == nil {
		return FailureGeneric
	}
	if res.FailureMode != FailureNone {
		return res.FailureMode
	}
	if res.Success {
		return FailureNone
	}

	msg := strings.ToLower(res.RawError)
	switch {
	case msg == "":
		return FailureGeneric
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "overloaded"):
		return FailureRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(msg, "context length") || strings.Contains(msg, "context window") ||
		strings.Contains(msg, "token limit") || strings.Contains(msg, "maximum context"):
		return FailureContextOverflow
	case strings.Contains(msg, "cancel"):
		return FailureCancelled
	case strings.Contains(msg, "tool"):
		return FailureToolError
	default:
		return FailureGeneric
	}
}
