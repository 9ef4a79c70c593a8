// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteRunStore {
	t.Helper()
	s, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRunStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.CreateRun("run-1", "build a cache"))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "build a cache", got.Goal)
	assert.False(t, got.Success)
	assert.Zero(t, got.FinishedAt)

	require.NoError(t, s.FinishRun("run-1", &SwarmExecutionResult{
		Success: true,
		Stats:   SwarmStats{TasksCompleted: 3, TotalTokens: 1234, Waves: 2},
	}))

	got, err = s.GetRun("run-1")
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.NotZero(t, got.FinishedAt)
	assert.Contains(t, got.Stats, `"tasks_completed":3`)
}

func TestSQLiteRunStoreTaskResults(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("run-1", "goal"))

	task := NewSwarmTask(TaskImplement, "write cache.py")
	res := &SwarmTaskResult{
		TaskID:           task.ID,
		Success:          true,
		ArtifactsChanged: []string{"cache.py"},
		TokensUsed:       800,
	}
	require.NoError(t, s.SaveTaskResult("run-1", task, res, 0.9))

	// Re-saving the same task replaces the row, not duplicates it.
	res.TokensUsed = 900
	require.NoError(t, s.SaveTaskResult("run-1", task, res, 0.95))

	var count, tokens int
	row := s.db.QueryRow("SELECT COUNT(*), MAX(tokens_used) FROM task_results WHERE run_id='run-1'")
	require.NoError(t, row.Scan(&count, &tokens))
	assert.Equal(t, 1, count)
	assert.Equal(t, 900, tokens)
}

func TestSQLiteRunStoreListRuns(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("run-1", "first"))
	require.NoError(t, s.CreateRun("run-2", "second"))

	list, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	ids := []string{list[0].RunID, list[1].RunID}
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, ids)
}
