// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"fmt"
	"strings"
)

const decompositionSystemPrompt = `You are a planning assistant for a swarm of coding agents.
Break the user's goal into independent tasks. Respond with a single JSON object:
{"tasks":[{"id":"t1","description":"...","type":"implement|research|review|test|refactor|design|fix|integrate|documentation","complexity":1-5,"dependencies":["t0"],"target_files":["path"],"priority":1-3}],"strategy":"...","reasoning":"..."}
Rules:
- 2 to 12 tasks; each independently executable by one agent.
- dependencies reference other task ids in this response only; no cycles.
- target_files lists every file the task is expected to create or modify.
- priority 1 is highest. Keep descriptions self-contained.`

func buildDecompositionUserPrompt(goal string, context string) string {
	var sb strings.Builder
	sb.WriteString("Goal:\n")
	sb.WriteString(goal)
	if context != "" {
		sb.WriteString("\n\nProject context:\n")
		sb.WriteString(context)
	}
	sb.WriteString("\n\nProduce the task breakdown JSON.")
	return sb.String()
}

const judgeSystemPrompt = `You are a strict quality judge for a coding agent's completed task.
Score the result and respond with a single JSON object:
{"score":0.0-1.0,"verdict":"approve|fixup|reject","reasons":["..."]}
Score 1.0 means the task is fully done as described; below 0.5 means substantially incomplete.
Use "fixup" when a focused follow-up task could repair the result, "reject" when the work must be redone.`

func buildJudgeUserPrompt(task *SwarmTask, result *SwarmTaskResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task (%s, complexity %d): %s\n", task.Type, task.Complexity, task.Description)
	if len(task.AcceptanceCriteria) > 0 {
		sb.WriteString("Acceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			sb.WriteString("- " + c + "\n")
		}
	}
	if len(task.TargetFiles) > 0 {
		fmt.Fprintf(&sb, "Declared target files: %s\n", strings.Join(task.TargetFiles, ", "))
	}
	fmt.Fprintf(&sb, "Files actually changed: %s\n", strings.Join(result.ArtifactsChanged, ", "))
	sb.WriteString("\nAgent's report:\n")
	sb.WriteString(truncateForPrompt(result.Response, 6000))
	sb.WriteString("\n\nJudge this result.")
	return sb.String()
}

const splitSystemPrompt = `You split one oversized coding task into 2-4 smaller sub-tasks.
Respond with a single JSON object:
{"tasks":[{"id":"s1","description":"...","type":"...","complexity":1-3,"target_files":["path"],"priority":1-3}]}
Sub-tasks must jointly cover the original task, be smaller than it, and be executable independently
except where one clearly builds on another (then add "dependencies":["s1"]).`

func buildSplitUserPrompt(task *SwarmTask, failureEvidence string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original task (%s, complexity %d): %s\n", task.Type, task.Complexity, task.Description)
	if len(task.TargetFiles) > 0 {
		fmt.Fprintf(&sb, "Target files: %s\n", strings.Join(task.TargetFiles, ", "))
	}
	if failureEvidence != "" {
		sb.WriteString("\nThe task has repeatedly failed. Evidence from the last attempts:\n")
		sb.WriteString(truncateForPrompt(failureEvidence, 2000))
	}
	sb.WriteString("\n\nProduce the split JSON.")
	return sb.String()
}

const replanSystemPrompt = `You repair a stalled task plan for a swarm of coding agents.
Some tasks completed, some failed, and the remaining tasks are deadlocked behind failures.
Respond with a single JSON object of the same shape as a task breakdown:
{"tasks":[{"id":"existing-or-new-id","description":"...","type":"...","complexity":1-5,"dependencies":[],"target_files":[],"priority":1-3}]}
Reuse existing task ids where the task itself is unchanged; only rewrite dependencies and add
bridging tasks where needed. No cycles.`

func buildReplanUserPrompt(goal string, tasks []*SwarmTask) string {
	var sb strings.Builder
	sb.WriteString("Overall goal:\n" + goal + "\n\nCurrent task states:\n")
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- %s [%s] (%s) deps=%s: %s\n",
			t.ID, t.Status, t.Type, strings.Join(t.Dependencies, ","), truncateForPrompt(t.Description, 200))
	}
	sb.WriteString("\nProduce a repaired plan for the remaining work.")
	return sb.String()
}

const synthesisSystemPrompt = `You write the final summary of a multi-agent coding run.
Given the per-task outcomes, produce a concise report for the user: what was accomplished,
what failed or was skipped and why, and what follow-up is recommended. Plain text, no JSON.`

func buildSynthesisUserPrompt(goal string, results map[string]*SwarmTaskResult, tasks []*SwarmTask) string {
	var sb strings.Builder
	sb.WriteString("Goal:\n" + goal + "\n\nOutcomes:\n")
	for _, t := range tasks {
		r := results[t.ID]
		switch {
		case r == nil:
			fmt.Fprintf(&sb, "- %s [%s]: no result\n", t.ID, t.Status)
		case r.Success:
			fmt.Fprintf(&sb, "- %s [completed] files=%s: %s\n",
				t.ID, strings.Join(r.ArtifactsChanged, ","), truncateForPrompt(r.Response, 300))
		default:
			fmt.Fprintf(&sb, "- %s [%s] failure=%s: %s\n",
				t.ID, t.Status, r.FailureMode, truncateForPrompt(r.Response, 300))
		}
	}
	sb.WriteString("\nWrite the final report.")
	return sb.String()
}

const verifySystemPrompt = `You spot-check one completed coding task. Respond with a single JSON object:
{"passed":true|false,"notes":"..."}
This check is advisory; be brief and concrete.`

func buildVerifyUserPrompt(task *SwarmTask, result *SwarmTaskResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\nFiles changed: %s\nAgent report:\n%s\n\nDoes the result plausibly satisfy the task?",
		task.Description, strings.Join(result.ArtifactsChanged, ", "), truncateForPrompt(result.Response, 4000))
	return sb.String()
}

// tieredSystemPrompt escalates instruction detail with the attempt count:
// first attempt gets the short prompt, the second includes failure evidence,
// the third and later add an explicit change-of-approach directive.
func tieredSystemPrompt(task *SwarmTask, attempt int, failureEvidence string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a focused %s agent in a coding swarm. Complete exactly this task and nothing else:\n%s\n",
		task.Type, task.Description)
	if len(task.TargetFiles) > 0 {
		fmt.Fprintf(&sb, "Only create or modify these files: %s\n", strings.Join(task.TargetFiles, ", "))
	}
	if len(task.AcceptanceCriteria) > 0 {
		sb.WriteString("Acceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			sb.WriteString("- " + c + "\n")
		}
	}
	if task.IsFixup() {
		fmt.Fprintf(&sb, "This is a repair of a previous task's output. Fix instructions:\n%s\n", task.FixInstructions)
	}

	if attempt >= 2 && failureEvidence != "" {
		sb.WriteString("\nA previous attempt at this task failed. Evidence:\n")
		sb.WriteString(truncateForPrompt(failureEvidence, 2000))
		sb.WriteString("\n")
	}
	if attempt >= 3 {
		sb.WriteString("\nRepeated attempts have failed the same way. Try a materially different approach this time; do not repeat the previous strategy.\n")
	}
	return sb.String()
}

func truncateForPrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[...truncated]"
}
