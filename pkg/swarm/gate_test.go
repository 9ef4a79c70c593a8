// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateFixture(t *testing.T, provider *scriptedProvider, useJudge bool) (*QualityGate, string) {
	t.Helper()
	root := t.TempDir()
	cfg := testConfig()
	cfg.UseJudge = useJudge
	if provider == nil {
		return NewQualityGate(&cfg, nil, root), root
	}
	return NewQualityGate(&cfg, provider, root), root
}

func writeArtifact(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

func TestGateMissingArtifactsScoresZero(t *testing.T) {
	g, _ := gateFixture(t, nil, false)
	task := NewSwarmTask(TaskImplement, "write code")

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:   task.ID,
		Success:  true,
		Response: "all done",
	}, true)

	assert.False(t, d.Accepted)
	assert.Zero(t, d.Score)
	assert.True(t, d.RequiresFixup)
}

func TestGateHollowCompletion(t *testing.T) {
	g, _ := gateFixture(t, nil, false)
	task := NewSwarmTask(TaskImplement, "write code")

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:   task.ID,
		Success:  true,
		Response: "I will now implement the feature as requested.",
	}, false)

	assert.False(t, d.Accepted)
	assert.InDelta(t, hollowCompletionScore, d.Score, 1e-9)
	assert.False(t, d.RequiresFixup, "no retries left")
}

func TestGateArtifactInventoryPartialScore(t *testing.T) {
	g, root := gateFixture(t, nil, false)
	task := NewSwarmTask(TaskImplement, "write both files")
	task.TargetFiles = []string{"a.py", "b.py"}
	writeArtifact(t, root, "a.py", "print('a')")

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:           task.ID,
		Success:          true,
		ArtifactsChanged: []string{"a.py"},
	}, true)

	// 0.4 x (1 present / 2 declared)
	assert.InDelta(t, 0.2, d.Score, 1e-9)
	assert.False(t, d.Accepted)
}

func TestGateEmptyDeclaredFileCountsMissing(t *testing.T) {
	g, root := gateFixture(t, nil, false)
	task := NewSwarmTask(TaskImplement, "write file")
	task.TargetFiles = []string{"a.py"}
	writeArtifact(t, root, "a.py", "") // exists but empty

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:           task.ID,
		Success:          true,
		ArtifactsChanged: []string{"a.py"},
	}, true)
	assert.Zero(t, d.Score)
}

func TestGateAcceptsWithoutJudge(t *testing.T) {
	g, root := gateFixture(t, nil, false)
	task := NewSwarmTask(TaskImplement, "write file")
	task.TargetFiles = []string{"a.py"}
	writeArtifact(t, root, "a.py", "print('a')")

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:           task.ID,
		Success:          true,
		ArtifactsChanged: []string{"a.py"},
	}, true)

	assert.True(t, d.Accepted)
	assert.False(t, d.Degraded)
	assert.InDelta(t, 1.0, d.Score, 1e-9)
}

func TestGateJudgeApprove(t *testing.T) {
	p := newScriptedProvider()
	p.on(judgeSystemPrompt, `Here is my verdict: {"score":0.9,"verdict":"approve","reasons":["looks solid"]}`)
	g, root := gateFixture(t, p, true)

	task := NewSwarmTask(TaskImplement, "write file")
	task.TargetFiles = []string{"a.py"}
	writeArtifact(t, root, "a.py", "print('a')")

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:           task.ID,
		Success:          true,
		ArtifactsChanged: []string{"a.py"},
	}, true)

	assert.True(t, d.Accepted)
	assert.InDelta(t, 0.9, d.Score, 1e-9)
	assert.Equal(t, []string{"looks solid"}, d.Reasons)
}

func TestGateJudgeParseFailureNeverAborts(t *testing.T) {
	p := newScriptedProvider()
	p.on(judgeSystemPrompt, "I think it's fine, roughly an eight out of ten.")
	g, root := gateFixture(t, p, true)

	task := NewSwarmTask(TaskImplement, "write file")
	task.TargetFiles = []string{"a.py"}
	writeArtifact(t, root, "a.py", "print('a')")

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:           task.ID,
		Success:          true,
		ArtifactsChanged: []string{"a.py"},
	}, true)

	// Parse failure scores 0.5; implement threshold 0.75, degraded floor
	// 0.375, artifacts present: accepted with degradation.
	assert.InDelta(t, judgeParseFailScore, d.Score, 1e-9)
	assert.True(t, d.Accepted)
	assert.True(t, d.Degraded)
}

func TestGateDegradedAcceptance(t *testing.T) {
	p := newScriptedProvider()
	p.on(judgeSystemPrompt, `{"score":0.45,"verdict":"fixup","reasons":["tests missing"]}`)
	g, root := gateFixture(t, p, true)

	task := NewSwarmTask(TaskImplement, "write file")
	task.TargetFiles = []string{"a.py"}
	writeArtifact(t, root, "a.py", "print('a')")

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:           task.ID,
		Success:          true,
		ArtifactsChanged: []string{"a.py"},
	}, true)

	assert.True(t, d.Accepted)
	assert.True(t, d.Degraded)
	assert.InDelta(t, 0.45, d.Score, 1e-9)
}

func TestGateRejectVerdictOverridesScore(t *testing.T) {
	p := newScriptedProvider()
	p.on(judgeSystemPrompt, `{"score":0.95,"verdict":"reject","reasons":["wrong file entirely"]}`)
	g, root := gateFixture(t, p, true)

	// Review type: no degraded acceptance.
	task := NewSwarmTask(TaskReview, "review the change")
	_ = root

	d := g.Evaluate(context.Background(), task, &SwarmTaskResult{
		TaskID:  task.ID,
		Success: true,
	}, true)

	assert.False(t, d.Accepted)
	assert.True(t, d.RequiresFixup)
}

func TestExtractFirstJSONObject(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{`leading text {"a":1} trailing`, `{"a":1}`},
		{`{"nested":{"x":[1,2]},"s":"b{race}"}`, `{"nested":{"x":[1,2]},"s":"b{race}"}`},
		{`{"escaped":"quote \" and brace }"} extra`, `{"escaped":"quote \" and brace }"}`},
		{`no json here`, ``},
		{`{"unterminated": true`, ``},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, extractFirstJSONObject(tc.input), "input: %s", tc.input)
	}
}
