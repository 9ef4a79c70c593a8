// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		v := version
		if gitCommit != "" {
			v += fmt.Sprintf(" (git: %s)", gitCommit)
		}
		fmt.Printf("attocode %s\n", v)
		if buildTime != "" {
			fmt.Printf("  Build: %s\n", buildTime)
		}
		fmt.Printf("  Go: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
