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

func task(id string, deps ...string) *SwarmTask {
	t := NewSwarmTask(TaskImplement, "do "+id)
	t.ID = id
	t.Dependencies = deps
	return t
}

func TestQueueIngestAndPromotion(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q.Ingest([]*SwarmTask{
		task("a"),
		task("b", "a"),
		task("c", "b"),
	}))

	assert.Equal(t, TaskReady, q.Get("a").Status)
	assert.Equal(t, TaskPending, q.Get("b").Status)

	require.NoError(t, q.MarkDispatched("a"))
	require.NoError(t, q.MarkCompleted("a"))
	assert.Equal(t, TaskReady, q.Get("b").Status)
	assert.Equal(t, TaskPending, q.Get("c").Status)
}

func TestQueueCycleRejectedNothingQueued(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	err := q.Ingest([]*SwarmTask{
		task("a", "c"),
		task("b", "a"),
		task("c", "b"),
	})
	require.ErrorIs(t, err, ErrCycleDetected)
	assert.Nil(t, q.Get("a"))
	assert.Equal(t, QueueStats{}, q.Stats())
}

func TestQueueUnknownDependencyRejected(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	err := q.Ingest([]*SwarmTask{task("a", "ghost")})
	require.ErrorIs(t, err, ErrUnknownDependency)
	assert.Nil(t, q.Get("a"))
}

func TestQueueWaveOrdering(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	high := task("zz-high")
	high.Priority = 1
	manyDeps := task("many", "d1", "d2")
	manyDeps.Priority = 2
	fewDeps := task("few", "d1")
	fewDeps.Priority = 2
	d1, d2 := task("d1"), task("d2")
	require.NoError(t, q.Ingest([]*SwarmTask{high, manyDeps, fewDeps, d1, d2}))

	for _, id := range []string{"d1", "d2"} {
		require.NoError(t, q.MarkDispatched(id))
		require.NoError(t, q.MarkCompleted(id))
	}

	wave := q.NextWave(10)
	require.Len(t, wave, 3)
	// priority ASC, then dependency count DESC, then ID.
	assert.Equal(t, "zz-high", wave[0].ID)
	assert.Equal(t, "many", wave[1].ID)
	assert.Equal(t, "few", wave[2].ID)
}

func TestQueueConflictSerialize(t *testing.T) {
	bus := NewEventBus()
	q := NewTaskQueue(ConflictSerialize, bus)
	t1 := task("t1")
	t1.TargetFiles = []string{"y.py"}
	t2 := task("t2")
	t2.TargetFiles = []string{"y.py"}
	require.NoError(t, q.Ingest([]*SwarmTask{t1, t2}))

	wave := q.NextWave(10)
	require.Len(t, wave, 1)
	assert.Equal(t, "t1", wave[0].ID)
	// The loser stays ready for the next wave; no conflict events.
	assert.Equal(t, TaskReady, q.Get("t2").Status)
	assert.Empty(t, eventsOfType(bus.History(), EventConflict))

	require.NoError(t, q.MarkDispatched("t1"))
	require.NoError(t, q.MarkCompleted("t1"))
	wave2 := q.NextWave(10)
	require.Len(t, wave2, 1)
	assert.Equal(t, "t2", wave2[0].ID)
}

func TestQueueConflictFirstWins(t *testing.T) {
	bus := NewEventBus()
	q := NewTaskQueue(ConflictFirstWins, bus)
	t1 := task("t1")
	t1.TargetFiles = []string{"y.py"}
	t2 := task("t2")
	t2.TargetFiles = []string{"y.py"}
	require.NoError(t, q.Ingest([]*SwarmTask{t1, t2}))

	wave := q.NextWave(10)
	require.Len(t, wave, 1)
	assert.Equal(t, "t1", wave[0].ID)
	assert.Equal(t, TaskSkipped, q.Get("t2").Status)

	conflicts := eventsOfType(bus.History(), EventConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "t2", conflicts[0].TaskID)
}

func TestQueueSkipCascade(t *testing.T) {
	bus := NewEventBus()
	q := NewTaskQueue(ConflictSerialize, bus)
	require.NoError(t, q.Ingest([]*SwarmTask{
		task("a"),
		task("b", "a"),
		task("c", "b"),
		task("free"),
	}))

	require.NoError(t, q.MarkDispatched("a"))
	require.NoError(t, q.MarkFailed("a"))

	assert.Equal(t, TaskFailed, q.Get("a").Status)
	assert.Equal(t, TaskSkipped, q.Get("b").Status)
	assert.Equal(t, TaskSkipped, q.Get("c").Status)
	assert.Equal(t, TaskReady, q.Get("free").Status)

	skips := eventsOfType(bus.History(), EventSkip)
	require.Len(t, skips, 2)
	assert.EqualValues(t, "a", skips[0].Data["blocked_by"])
}

func TestQueueSkippedWithArtifactsSatisfiesDependents(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q.Ingest([]*SwarmTask{
		task("a"),
		task("b", "a"),
		task("c", "b"),
	}))
	require.NoError(t, q.MarkDispatched("a"))
	require.NoError(t, q.MarkFailed("a"))
	require.Equal(t, TaskSkipped, q.Get("b").Status)

	q.MarkSkippedWithArtifacts("b")
	assert.Equal(t, TaskReady, q.Get("c").Status)
}

func TestQueueRescueSkippedOnce(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q.Ingest([]*SwarmTask{task("a"), task("b", "a")}))
	require.NoError(t, q.MarkDispatched("a"))
	require.NoError(t, q.MarkFailed("a"))
	require.Equal(t, TaskSkipped, q.Get("b").Status)

	assert.True(t, q.RescueSkipped("b"))
	assert.Equal(t, TaskReady, q.Get("b").Status)

	// Second rescue after another skip is refused.
	require.NoError(t, q.MarkDispatched("b"))
	require.NoError(t, q.RequeueForRetry("b"))
	q.Get("b").Status = TaskSkipped
	assert.False(t, q.RescueSkipped("b"))
}

func TestQueueRetryTransition(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q.Ingest([]*SwarmTask{task("a")}))

	require.NoError(t, q.MarkDispatched("a"))
	assert.Equal(t, 1, q.Attempts("a"))

	require.NoError(t, q.RequeueForRetry("a"))
	assert.Equal(t, TaskReady, q.Get("a").Status)

	require.NoError(t, q.MarkDispatched("a"))
	assert.Equal(t, 2, q.Attempts("a"))
}

func TestQueueDecomposeRewiresDependents(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q.Ingest([]*SwarmTask{
		task("dep"),
		task("big", "dep"),
		task("after", "big"),
	}))

	subs := []*SwarmTask{task("big.1"), task("big.2"), task("big.3")}
	require.NoError(t, q.Decompose("big", subs))

	assert.Equal(t, TaskDecomposed, q.Get("big").Status)
	for _, sub := range subs {
		got := q.Get(sub.ID)
		require.NotNil(t, got)
		assert.Contains(t, got.Dependencies, "dep")
	}
	after := q.Get("after")
	for _, sub := range subs {
		assert.Contains(t, after.Dependencies, sub.ID)
	}

	// "after" is not ready until every sub-task completes.
	require.NoError(t, q.MarkDispatched("dep"))
	require.NoError(t, q.MarkCompleted("dep"))
	for _, sub := range subs {
		require.NoError(t, q.MarkDispatched(sub.ID))
		require.NoError(t, q.MarkCompleted(sub.ID))
	}
	assert.Equal(t, TaskReady, q.Get("after").Status)
}

func TestQueueInsertFixup(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	broken := task("broken")
	require.NoError(t, q.Ingest([]*SwarmTask{broken}))
	require.NoError(t, q.MarkDispatched("broken"))
	require.NoError(t, q.MarkCompleted("broken"))

	fixup := NewFixupTask(broken, "repair the output")
	require.NoError(t, q.InsertFixup(fixup))

	got := q.Get(fixup.ID)
	require.NotNil(t, got)
	assert.Contains(t, got.Dependencies, "broken")
	assert.Equal(t, TaskReady, got.Status)
}

func TestQueueInsertFixupRejectsNonFixup(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q.Ingest([]*SwarmTask{task("a")}))
	err := q.InsertFixup(task("not-a-fixup"))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestQueueSnapshotRestoreFixedPoint(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q.Ingest([]*SwarmTask{
		task("a"),
		task("b", "a"),
	}))
	require.NoError(t, q.MarkDispatched("a"))

	snap := q.Snapshot()

	q2 := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q2.Restore(snap))

	// Dispatched demotes to ready; attempts carry over.
	assert.Equal(t, TaskReady, q2.Get("a").Status)
	assert.Equal(t, 1, q2.Attempts("a"))

	// Snapshot of the restored queue matches itself (fixed point).
	snap2 := q2.Snapshot()
	q3 := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q3.Restore(snap2))
	assert.Equal(t, snap2, q3.Snapshot())
}

func TestQueueStats(t *testing.T) {
	q := NewTaskQueue(ConflictSerialize, nil)
	require.NoError(t, q.Ingest([]*SwarmTask{
		task("a"),
		task("b", "a"),
	}))
	require.NoError(t, q.MarkDispatched("a"))

	s := q.Stats()
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 2, s.NonTerminal())
}
