// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import "errors"

var (
	ErrCancelled         = errors.New("swarm cancelled")
	ErrBudgetExhausted   = errors.New("budget exhausted")
	ErrLedgerConflict    = errors.New("ledger write conflict")
	ErrClaimHeld         = errors.New("file claim held by another agent")
	ErrCycleDetected     = errors.New("dependency cycle detected")
	ErrUnknownDependency = errors.New("dependency references unknown task")
	ErrTaskNotFound      = errors.New("task not found")
	ErrNoWorkerAvailable = errors.New("no worker matches task capabilities")
	ErrConfiguration     = errors.New("configuration error")
	ErrInternalInvariant = errors.New("internal invariant violation")
)
