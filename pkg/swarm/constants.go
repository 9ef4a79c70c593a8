// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

const (
	// Fingerprinting / loop detection
	FingerprintLength          = 16
	DefaultGlobalDoomThreshold = 10

	// Budget pool
	DefaultReservePercent      = 0.25
	DefaultMinAllocation       = 1000
	SequentialSpawnCapFraction = 0.60

	// Circuit breaker
	CircuitBreakerWindowMs  = 30_000
	CircuitBreakerThreshold = 3
	CircuitBreakerPauseMs   = 15_000

	// Adaptive stagger between spawns inside a wave
	DefaultStaggerStepMs = 250
	DefaultStaggerCapMs  = 5_000

	// Timeouts
	DefaultBaseTimeoutMs   = 60_000
	WaveTimeoutSlackMs     = 30_000
	DefaultGraceDeadlineMs = 10_000

	// Event bus
	EventHistoryCap = 2048

	// Worker pool
	DefaultMaxConcurrent      = 5
	DefaultProgressIntervalMs = 10_000

	// Quality gate scoring
	artifactPartialScoreWeight = 0.4
	degradedFloorFraction      = 0.5
	hollowCompletionScore      = 0.2
	judgeParseFailScore        = 0.5

	// Replan
	DefaultReplanStallTicks = 2
)

// hollowMarkers are response fragments that signal a worker described work
// instead of doing it. A match with no artifacts on an artifact-requiring
// task caps the score at hollowCompletionScore.
var hollowMarkers = []string{
	"i will now",
	"i would implement",
	"in a real implementation",
	"left as an exercise",
	"placeholder implementation",
	"todo: implement",
	"you can implement",
	"next steps would be",
	"here's how you could",
}
