// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicClassifier(t *testing.T) {
	c := HeuristicClassifier{}

	cases := []struct {
		name string
		res  *SpawnResult
		want FailureMode
	}{
		{"explicit mode wins", &SpawnResult{FailureMode: FailureContextOverflow, RawError: "timeout"}, FailureContextOverflow},
		{"success", &SpawnResult{Success: true}, FailureNone},
		{"rate limit text", &SpawnResult{RawError: "HTTP 429 Too Many Requests"}, FailureRateLimit},
		{"overloaded", &SpawnResult{RawError: "model overloaded, retry later"}, FailureRateLimit},
		{"timeout", &SpawnResult{RawError: "context deadline exceeded"}, FailureTimeout},
		{"context window", &SpawnResult{RawError: "prompt exceeds maximum context length"}, FailureContextOverflow},
		{"cancelled", &SpawnResult{RawError: "operation cancelled by parent"}, FailureCancelled},
		{"tool", &SpawnResult{RawError: "tool execution error: exec format"}, FailureToolError},
		{"unknown", &SpawnResult{RawError: "something odd happened"}, FailureGeneric},
		{"empty error", &SpawnResult{}, FailureGeneric},
		{"nil", nil, FailureGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.res))
		})
	}
}

func TestFailureModeTransient(t *testing.T) {
	assert.True(t, FailureRateLimit.Transient())
	assert.True(t, FailureTimeout.Transient())
	assert.True(t, FailureGeneric.Transient())
	assert.True(t, FailureToolError.Transient())
	assert.False(t, FailureContextOverflow.Transient())
	assert.False(t, FailureQualityRejected.Transient())
	assert.False(t, FailureCancelled.Transient())
}
