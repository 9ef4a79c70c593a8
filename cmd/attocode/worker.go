// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eren23/attocode-sub003/pkg/logger"
	"github.com/eren23/attocode-sub003/pkg/providers"
	"github.com/eren23/attocode-sub003/pkg/swarm"
)

// chatWorker is the built-in worker adapter: one provider call per task, with
// declared files written through the ledger's optimistic-concurrency path so
// concurrent workers can never silently clobber each other. Tool-call
// fingerprints feed the shared economics tracker.
type chatWorker struct {
	provider  providers.Provider
	ledger    *swarm.FileLedger
	economics *swarm.SharedEconomics
}

// workerReply is the structured output the worker prompt asks for.
type workerReply struct {
	Summary string `json:"summary"`
	Files   []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"files"`
}

func newChatWorker(provider providers.Provider, ledger *swarm.FileLedger, economics *swarm.SharedEconomics) *chatWorker {
	return &chatWorker{provider: provider, ledger: ledger, economics: economics}
}

const workerOutputInstructions = `
Respond with a single JSON object:
{"summary": "<what you did>", "files": [{"path": "<relative path>", "content": "<full file content>"}]}
Only include files you are changing. Keep paths relative to the working directory.`

func (w *chatWorker) spawn(spec *swarm.WorkerSpawnSpec) *swarm.SpawnResult {
	started := time.Now()
	agentID := spec.Task.ID

	ctx, cancel := spec.Cancel.ContextFrom(context.Background())
	defer cancel()

	w.economics.RecordToolCall(agentID, swarm.Fingerprint("worker_chat", map[string]any{
		"task":  spec.Task.ID,
		"model": spec.Model,
	}))

	resp, err := w.provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: spec.Task.Description},
	}, providers.ChatOptions{
		Model:          spec.Model,
		System:         spec.SystemPrompt + workerOutputInstructions,
		ResponseFormat: "json",
		MaxTokens:      spec.Budget,
	})
	if err != nil {
		return &swarm.SpawnResult{
			Success:    false,
			RawError:   err.Error(),
			DurationMs: time.Since(started).Milliseconds(),
		}
	}

	var reply workerReply
	raw := firstJSONObject(resp.Content)
	if raw == "" || json.Unmarshal([]byte(raw), &reply) != nil {
		// Unstructured output is still a usable response for artifact-free
		// task types; the gate decides.
		return &swarm.SpawnResult{
			Success:    true,
			Response:   resp.Content,
			TokensUsed: resp.Usage.TotalTokens(),
			CostUSD:    resp.Usage.Cost,
			DurationMs: time.Since(started).Milliseconds(),
		}
	}

	var written []string
	for _, f := range reply.Files {
		version, err := w.ledger.Snapshot(agentID, f.Path)
		if err != nil {
			logger.WarnCF("worker", "File snapshot failed", map[string]any{"path": f.Path, "error": err.Error()})
			continue
		}
		res, err := w.ledger.AttemptWrite(agentID, version, f.Content)
		if err != nil {
			logger.WarnCF("worker", "Write failed", map[string]any{"path": f.Path, "error": err.Error()})
			continue
		}
		if res.Conflict {
			return &swarm.SpawnResult{
				Success:       false,
				FailureMode:   swarm.FailureToolError,
				ConflictPaths: []string{f.Path},
				RawError:      fmt.Sprintf("write conflict on %s: file changed since read", f.Path),
				TokensUsed:    resp.Usage.TotalTokens(),
				CostUSD:       resp.Usage.Cost,
				DurationMs:    time.Since(started).Milliseconds(),
			}
		}
		written = append(written, f.Path)
	}

	return &swarm.SpawnResult{
		Success:          true,
		Response:         reply.Summary,
		ArtifactsChanged: written,
		TokensUsed:       resp.Usage.TotalTokens(),
		CostUSD:          resp.Usage.Cost,
		DurationMs:       time.Since(started).Milliseconds(),
	}
}

// firstJSONObject finds the first balanced {...}, ignoring braces inside
// string literals.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth, inString, escaped := 0, false, false
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
