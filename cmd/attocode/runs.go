// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/eren23/attocode-sub003/pkg/swarm"
)

var flagRunsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent swarm runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := swarm.NewSQLiteRunStore(filepath.Join(dataDir(), "runs.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.ListRuns(flagRunsLimit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		for _, r := range list {
			status := "ok"
			if !r.Success {
				status = "failed"
				if r.Reason != "" {
					status += ":" + r.Reason
				}
			}
			goal := r.Goal
			if len(goal) > 60 {
				goal = goal[:57] + "..."
			}
			fmt.Printf("%-14s %-20s %-18s %s\n",
				r.RunID, time.UnixMilli(r.CreatedAt).Format("2006-01-02 15:04:05"), status, goal)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&flagRunsLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(runsCmd)
}
