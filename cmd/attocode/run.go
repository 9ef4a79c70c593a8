// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eren23/attocode-sub003/pkg/logger"
	"github.com/eren23/attocode-sub003/pkg/providers"
	anthropicprovider "github.com/eren23/attocode-sub003/pkg/providers/anthropic"
	"github.com/eren23/attocode-sub003/pkg/providers/openai_sdk"
	"github.com/eren23/attocode-sub003/pkg/swarm"
)

var (
	flagWorkDir     string
	flagListen      string
	flagMaxWorkers  int
	flagStrategy    string
	flagBudget      int
	flagNoJudge     bool
	flagVerify      bool
	flagRequestsRPM int
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Execute a coding goal with the swarm",
	Args:  cobra.ExactArgs(1),
	RunE:  runSwarm,
}

func init() {
	runCmd.Flags().StringVarP(&flagWorkDir, "work-dir", "w", ".", "directory workers operate in")
	runCmd.Flags().StringVar(&flagListen, "listen", "", "serve the event stream on this address (e.g. :8377)")
	runCmd.Flags().IntVar(&flagMaxWorkers, "max-workers", 0, "concurrent worker cap (0 = config default)")
	runCmd.Flags().StringVar(&flagStrategy, "strategy", "", "conflict strategy: serialize or first-wins")
	runCmd.Flags().IntVar(&flagBudget, "budget", 0, "parent token budget (0 = config default)")
	runCmd.Flags().BoolVar(&flagNoJudge, "no-judge", false, "skip the LLM quality judge")
	runCmd.Flags().BoolVar(&flagVerify, "verify", false, "run the advisory verification pass")
	runCmd.Flags().IntVar(&flagRequestsRPM, "rpm", 120, "provider request rate limit per minute")
	rootCmd.AddCommand(runCmd)
}

func runSwarm(cmd *cobra.Command, args []string) error {
	goal := args[0]

	cfg, err := swarm.LoadSwarmConfigFromEnv()
	if err != nil {
		return err
	}
	if flagMaxWorkers > 0 {
		cfg.MaxConcurrent = flagMaxWorkers
	}
	if flagStrategy != "" {
		cfg.ConflictStrategy = swarm.ConflictStrategy(flagStrategy)
	}
	if flagBudget > 0 {
		cfg.Budget.ParentTotal = flagBudget
	}
	if flagNoJudge {
		cfg.UseJudge = false
	}
	if flagVerify {
		cfg.Verify = true
	}
	if cfg.RunRoot == "" {
		cfg.RunRoot = filepath.Join(dataDir(), "runs", time.Now().UTC().Format("20060102-150405"))
	}
	// EventLogPath defaults to <RunRoot>/swarm.events.jsonl in the orchestrator.
	if err := os.MkdirAll(cfg.RunRoot, 0o755); err != nil {
		return fmt.Errorf("creating run root: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	provider, err := buildProvider()
	if err != nil {
		return err
	}

	store, err := swarm.NewSQLiteRunStore(filepath.Join(dataDir(), "runs.db"))
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer store.Close()

	workDir, err := filepath.Abs(flagWorkDir)
	if err != nil {
		return err
	}

	// The worker adapter needs the orchestrator's ledger and economics
	// tracker, which exist only after construction; bind late.
	var worker *chatWorker
	spawn := func(spec *swarm.WorkerSpawnSpec) *swarm.SpawnResult {
		return worker.spawn(spec)
	}

	orch, err := swarm.NewOrchestrator(cfg, provider, spawn,
		swarm.WithWorkingDir(workDir),
		swarm.WithRunStore(store),
	)
	if err != nil {
		return err
	}
	worker = newChatWorker(provider, orch.Ledger(), orch.Economics())

	metrics := swarm.NewMetricsCollector(orch.Bus())
	defer metrics.Detach()

	if flagListen != "" {
		stream := swarm.NewEventStreamServer(orch.Bus())
		defer stream.Close()
		mux := http.NewServeMux()
		mux.Handle("/events", stream)
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(metrics.Snapshot())
		})
		srv := &http.Server{Addr: flagListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WarnCF("cli", "Event stream server stopped", map[string]any{"error": err.Error()})
			}
		}()
		defer srv.Close()
		logger.InfoCF("cli", "Event stream listening", map[string]any{"addr": flagListen})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoCF("cli", "Starting swarm run", map[string]any{
		"run":     orch.RunID(),
		"goal":    goal,
		"workdir": workDir,
	})

	result, err := orch.Run(ctx, goal)
	if err != nil {
		return err
	}

	printResult(orch.RunID(), result, metrics.Snapshot())
	if !result.Success {
		return fmt.Errorf("run finished with reason: %s", result.Reason)
	}
	return nil
}

// buildProvider picks the configured LLM backend and wraps it with rate
// limiting and retry.
func buildProvider() (providers.Provider, error) {
	var inner providers.Provider
	switch {
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		if base := os.Getenv("ANTHROPIC_API_BASE"); base != "" {
			inner = anthropicprovider.NewProviderWithBaseURL(os.Getenv("ANTHROPIC_API_KEY"), base)
		} else {
			inner = anthropicprovider.NewProvider(os.Getenv("ANTHROPIC_API_KEY"))
		}
	case os.Getenv("OPENAI_API_KEY") != "":
		inner = openai_sdk.NewProvider(os.Getenv("OPENAI_API_KEY"))
	default:
		return nil, fmt.Errorf("no provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	throttled := providers.NewThrottledProvider(inner, flagRequestsRPM, flagRequestsRPM/4+1)
	return providers.NewRetryingProvider(throttled, 3, 2*time.Second), nil
}

func printResult(runID string, result *swarm.SwarmExecutionResult, m swarm.MetricsSnapshot) {
	status := "SUCCESS"
	if !result.Success {
		status = "FAILED (" + result.Reason + ")"
	}
	fmt.Printf("\nRun %s: %s\n", runID, status)
	fmt.Printf("  Tasks: %d completed, %d failed, %d skipped over %d waves\n",
		result.Stats.TasksCompleted, result.Stats.TasksFailed, result.Stats.TasksSkipped, result.Stats.Waves)
	fmt.Printf("  Tokens: %d (cost $%.4f), duration %s\n",
		result.Stats.TotalTokens, result.Stats.TotalCostUSD,
		(time.Duration(result.DurationMs) * time.Millisecond).Round(time.Millisecond))
	if len(result.Artifacts) > 0 {
		fmt.Printf("  Artifacts:\n    %s\n", strings.Join(result.Artifacts, "\n    "))
	}
	if m.Conflicts > 0 || m.RateLimits > 0 {
		fmt.Printf("  Friction: %d write conflicts, %d rate limits, %d breaker trips\n",
			m.Conflicts, m.RateLimits, m.BreakerTrips)
	}
	if result.Summary != "" {
		fmt.Printf("\n%s\n", result.Summary)
	}
}
