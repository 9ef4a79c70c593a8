// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/eren23/attocode-sub003/pkg/logger"
	"github.com/eren23/attocode-sub003/pkg/providers"
)

// GateDecision is the quality gate's verdict on one task result.
type GateDecision struct {
	Accepted      bool     `json:"accepted"`
	Score         float64  `json:"score"`
	Reasons       []string `json:"reasons,omitempty"`
	RequiresFixup bool     `json:"requires_fixup"`
	Degraded      bool     `json:"degraded"`
}

// judgeVerdict is the structured output expected from the LLM judge.
type judgeVerdict struct {
	Score   float64  `json:"score"`
	Verdict string   `json:"verdict"`
	Reasons []string `json:"reasons"`
}

// QualityGate decides whether a worker's result is good enough to count the
// task completed. Checks run cheapest-first and short-circuit: hollow
// completion, artifact presence, artifact inventory, then the optional LLM
// judge. The gate never aborts a run; a broken judge degrades to a fixup.
type QualityGate struct {
	cfg      *SwarmConfig
	provider providers.Provider
	workRoot string
}

// NewQualityGate creates a gate. provider may be nil, which disables the
// judge regardless of config.
func NewQualityGate(cfg *SwarmConfig, provider providers.Provider, workRoot string) *QualityGate {
	return &QualityGate{cfg: cfg, provider: provider, workRoot: workRoot}
}

// Evaluate scores a task result. retriesLeft tells the gate whether a
// rejection may still become a fixup rather than a terminal failure.
func (g *QualityGate) Evaluate(ctx context.Context, task *SwarmTask, result *SwarmTaskResult, retriesLeft bool) *GateDecision {
	tc := g.cfg.TaskTypeConfigFor(task.Type)

	if g.isHollow(task, result, tc) {
		return g.decide(task, result, tc, hollowCompletionScore,
			[]string{"hollow completion: boilerplate response with no artifacts"}, retriesLeft)
	}

	if tc.RequiresArtifacts && len(result.ArtifactsChanged) == 0 {
		return g.decide(task, result, tc, 0,
			[]string{"task type requires artifacts but none were changed"}, retriesLeft)
	}

	if len(task.TargetFiles) > 0 {
		present, missing := g.artifactInventory(task, result)
		if len(missing) > 0 {
			score := artifactPartialScoreWeight * float64(present) / float64(len(task.TargetFiles))
			reasons := make([]string, 0, len(missing))
			for _, m := range missing {
				reasons = append(reasons, "missing or empty artifact: "+m)
			}
			return g.decide(task, result, tc, score, reasons, retriesLeft)
		}
	}

	score := 1.0
	var reasons []string
	if g.cfg.UseJudge && g.provider != nil {
		verdict := g.judge(ctx, task, result)
		score = verdict.Score
		reasons = verdict.Reasons
		if verdict.Verdict == "reject" && score >= tc.AcceptanceThreshold {
			// An explicit reject verdict overrides a generous score.
			score = tc.AcceptanceThreshold - 0.01
		}
	}
	return g.decide(task, result, tc, score, reasons, retriesLeft)
}

// decide applies the acceptance rules to a computed score.
func (g *QualityGate) decide(task *SwarmTask, result *SwarmTaskResult, tc TaskTypeConfig, score float64, reasons []string, retriesLeft bool) *GateDecision {
	d := &GateDecision{Score: score, Reasons: reasons}

	switch {
	case score >= tc.AcceptanceThreshold:
		d.Accepted = true
	case tc.DegradedAcceptable &&
		score >= degradedFloorFraction*tc.AcceptanceThreshold &&
		len(result.ArtifactsChanged) > 0:
		d.Accepted = true
		d.Degraded = true
		d.Reasons = append(d.Reasons, "accepted with degradation: partial artifacts")
	default:
		d.RequiresFixup = retriesLeft
	}
	return d
}

// isHollow detects "I will now implement..." style non-answers: a marker
// phrase, nothing on disk, for a task that was supposed to produce files.
func (g *QualityGate) isHollow(task *SwarmTask, result *SwarmTaskResult, tc TaskTypeConfig) bool {
	if !tc.RequiresArtifacts || len(result.ArtifactsChanged) > 0 {
		return false
	}
	lower := strings.ToLower(result.Response)
	for _, marker := range hollowMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// artifactInventory checks declared target files against artifactsChanged
// membership and on-disk presence. Returns the present count and the paths
// that are missing from either.
func (g *QualityGate) artifactInventory(task *SwarmTask, result *SwarmTaskResult) (int, []string) {
	changed := make(map[string]bool, len(result.ArtifactsChanged))
	for _, a := range result.ArtifactsChanged {
		changed[a] = true
	}

	present := 0
	var missing []string
	for _, path := range task.TargetFiles {
		if !changed[path] || !g.fileNonEmpty(path) {
			missing = append(missing, path)
			continue
		}
		present++
	}
	return present, missing
}

func (g *QualityGate) fileNonEmpty(path string) bool {
	if !filepath.IsAbs(path) && g.workRoot != "" {
		path = filepath.Join(g.workRoot, path)
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// judge calls the provider with a structured-output instruction and parses
// the first JSON object in the reply. Parse failures never abort: they score
// 0.5 with a fixup verdict.
func (g *QualityGate) judge(ctx context.Context, task *SwarmTask, result *SwarmTaskResult) judgeVerdict {
	fallback := judgeVerdict{Score: judgeParseFailScore, Verdict: "fixup", Reasons: []string{"judge parse failed"}}

	resp, err := g.provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: buildJudgeUserPrompt(task, result)},
	}, providers.ChatOptions{
		Model:          g.cfg.OrchestratorModel,
		System:         judgeSystemPrompt,
		ResponseFormat: "json",
		MaxTokens:      1024,
	})
	if err != nil {
		logger.WarnCF("swarm", "Judge call failed", map[string]any{
			"task":  task.ID,
			"error": err.Error(),
		})
		return fallback
	}

	raw := extractFirstJSONObject(resp.Content)
	if raw == "" {
		return fallback
	}
	var v judgeVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fallback
	}
	if v.Score < 0 || v.Score > 1 {
		return fallback
	}
	switch v.Verdict {
	case "approve", "fixup", "reject":
	default:
		return fallback
	}
	return v
}

// extractFirstJSONObject returns the first balanced {...} in s, honoring
// string literals and escapes, or "" if none.
func extractFirstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
