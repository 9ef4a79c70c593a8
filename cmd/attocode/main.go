// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
