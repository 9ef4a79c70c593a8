// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eren23/attocode-sub003/pkg/logger"
)

var (
	flagVerbose bool
	flagLogFile string
)

var rootCmd = &cobra.Command{
	Use:   "attocode",
	Short: "Swarm-orchestrated coding assistant",
	Long: `AttoCode decomposes a coding goal into a task graph and executes it
with a swarm of LLM workers: shared budget, file claims with optimistic
writes, quality gating, and failure recovery.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			logger.SetLevel(logger.DEBUG)
		}
		if flagLogFile != "" {
			if err := logger.EnableFileLogging(flagLogFile); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "also write logs to this file")
}

// dataDir is where the run database and per-run artifacts live.
func dataDir() string {
	if dir := os.Getenv("ATTOCODE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".attocode"
	}
	return filepath.Join(home, ".attocode")
}
