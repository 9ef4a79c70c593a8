// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"context"
	"sync"

	"github.com/eren23/attocode-sub003/pkg/providers"
)

// scriptedProvider routes chat calls by system prompt so one fake can serve
// decomposition, judging, splitting, and synthesis in a single run. Repeated
// on() calls for the same prompt queue replies; the last one is sticky.
type scriptedProvider struct {
	mu      sync.Mutex
	replies map[string][]string // system prompt -> response queue
	errs    map[string]error
	calls   []providers.ChatOptions
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		replies: make(map[string][]string),
		errs:    make(map[string]error),
	}
}

func (p *scriptedProvider) on(systemPrompt, reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[systemPrompt] = append(p.replies[systemPrompt], reply)
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, opts providers.ChatOptions) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, opts)
	if err := p.errs[opts.System]; err != nil {
		return nil, err
	}
	content := "{}"
	if queue := p.replies[opts.System]; len(queue) > 0 {
		content = queue[0]
		if len(queue) > 1 {
			p.replies[opts.System] = queue[1:]
		}
	}
	return &providers.ChatResponse{Content: content, StopReason: "end_turn"}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// scriptedSpawner returns canned results per task; unknown tasks succeed
// with no artifacts. Results for the same key are consumed in order.
type scriptedSpawner struct {
	mu       sync.Mutex
	byID     map[string][]*SpawnResult
	byDesc   map[string][]*SpawnResult
	fallback func(spec *WorkerSpawnSpec) *SpawnResult
	spawned  []string
}

func newScriptedSpawner() *scriptedSpawner {
	return &scriptedSpawner{
		byID:   make(map[string][]*SpawnResult),
		byDesc: make(map[string][]*SpawnResult),
	}
}

func (s *scriptedSpawner) onTask(id string, results ...*SpawnResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = append(s.byID[id], results...)
}

func (s *scriptedSpawner) onDescription(desc string, results ...*SpawnResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDesc[desc] = append(s.byDesc[desc], results...)
}

func (s *scriptedSpawner) fn(spec *WorkerSpawnSpec) *SpawnResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawned = append(s.spawned, spec.Task.ID)

	if queue := s.byID[spec.Task.ID]; len(queue) > 0 {
		s.byID[spec.Task.ID] = queue[1:]
		return queue[0]
	}
	if queue := s.byDesc[spec.Task.Description]; len(queue) > 0 {
		s.byDesc[spec.Task.Description] = queue[1:]
		return queue[0]
	}
	if s.fallback != nil {
		return s.fallback(spec)
	}
	return &SpawnResult{Success: true, Response: "done", TokensUsed: 100}
}

func (s *scriptedSpawner) spawnedTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spawned...)
}

func okResult(tokens int, artifacts ...string) *SpawnResult {
	return &SpawnResult{Success: true, Response: "done", TokensUsed: tokens, ArtifactsChanged: artifacts}
}

func failResult(mode FailureMode, msg string) *SpawnResult {
	return &SpawnResult{Success: false, FailureMode: mode, RawError: msg, TokensUsed: 50}
}

// testConfig is a fast-running config for orchestrator tests.
func testConfig() SwarmConfig {
	cfg := DefaultSwarmConfig()
	cfg.UseJudge = false
	cfg.BaseTimeoutMs = 2_000
	cfg.WaveTimeoutSlackMs = 2_000
	cfg.CircuitBreakerPauseMs = 50
	cfg.StaggerCapMs = 20
	return cfg
}

// eventsOfType filters a history slice.
func eventsOfType(events []SwarmEvent, t EventType) []SwarmEvent {
	var out []SwarmEvent
	for _, e := range events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
