// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedEconomicsDoomLoop(t *testing.T) {
	e := NewSharedEconomics(5)
	fp := Fingerprint("read_file", map[string]any{"path": "x.py"})

	for i := 0; i < 4; i++ {
		e.RecordToolCall("worker-a", fp)
	}
	assert.False(t, e.IsGlobalDoomLoop(fp))

	// The fifth call comes from a different worker; the loop is global.
	e.RecordToolCall("worker-b", fp)
	assert.True(t, e.IsGlobalDoomLoop(fp))
	assert.Equal(t, 5, e.TotalCalls(fp))

	loops := e.GetGlobalLoops()
	require.Len(t, loops, 1)
	assert.Equal(t, fp, loops[0].Fingerprint)
	assert.Equal(t, []string{"worker-a", "worker-b"}, loops[0].Workers)
}

func TestSharedEconomicsSnapshotRoundTrip(t *testing.T) {
	e := NewSharedEconomics(10)
	e.RecordToolCall("w1", "fp-1")
	e.RecordToolCall("w1", "fp-1")
	e.RecordToolCall("w2", "fp-2")

	snap := e.Snapshot()

	restored := NewSharedEconomics(10)
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, 2, restored.TotalCalls("fp-1"))

	// The snapshot is a deep copy, not a live view.
	e.RecordToolCall("w1", "fp-1")
	assert.Equal(t, 2, restored.TotalCalls("fp-1"))
}

func TestSharedEconomicsReset(t *testing.T) {
	e := NewSharedEconomics(2)
	e.RecordToolCall("w", "fp")
	e.RecordToolCall("w", "fp")
	require.True(t, e.IsGlobalDoomLoop("fp"))

	e.Reset()
	assert.False(t, e.IsGlobalDoomLoop("fp"))
	assert.Empty(t, e.GetGlobalLoops())
}
