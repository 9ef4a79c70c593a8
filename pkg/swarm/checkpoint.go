// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const manifestSchemaVersion = 1

// SwarmCheckpoint is the full serializable state of a run, enough to resume
// after a crash. Event history is best-effort context, not replayed state.
type SwarmCheckpoint struct {
	RunID     string            `json:"run_id"`
	Phase     Phase             `json:"phase"`
	Goal      string            `json:"goal,omitempty"`
	Queue     QueueSnapshot     `json:"queue"`
	Economics EconomicsSnapshot `json:"economics,omitempty"`
	Budget    BudgetSnapshot    `json:"budget"`
	Events    []SwarmEvent      `json:"events,omitempty"`
}

// RunManifest is the static metadata written once per run.
type RunManifest struct {
	SchemaVersion    int              `json:"schema_version"`
	RunID            string           `json:"run_id"`
	Goal             string           `json:"goal"`
	CreatedAt        int64            `json:"created_at"`
	Budget           BudgetConfig     `json:"budget"`
	ConflictStrategy ConflictStrategy `json:"conflict_strategy"`
	TaskIDs          []string         `json:"task_ids,omitempty"`
}

// taskCheckpoint is the small per-task file under tasks/.
type taskCheckpoint struct {
	TaskID          string      `json:"task_id"`
	Status          TaskStatus  `json:"status"`
	Attempts        int         `json:"attempts"`
	LastFailureMode FailureMode `json:"last_failure_mode,omitempty"`
}

// writeFileAtomic writes data to path via a temp file in the same directory,
// fsyncs, then renames over the target.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// writeJSONAtomic marshals v with indentation and writes it atomically.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(raw, '\n'))
}

// WriteCheckpoint persists the full state snapshot plus per-task checkpoint
// files under runRoot.
func WriteCheckpoint(runRoot string, cp *SwarmCheckpoint, lastFailures map[string]FailureMode) error {
	if runRoot == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(runRoot, "tasks"), 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(runRoot, "swarm.state.json"), cp); err != nil {
		return fmt.Errorf("checkpoint state: %w", err)
	}
	for _, t := range cp.Queue.Tasks {
		tc := taskCheckpoint{
			TaskID:          t.ID,
			Status:          t.Status,
			Attempts:        cp.Queue.Attempts[t.ID],
			LastFailureMode: lastFailures[t.ID],
		}
		if err := writeJSONAtomic(filepath.Join(runRoot, "tasks", t.ID+".json"), tc); err != nil {
			return fmt.Errorf("checkpoint task %s: %w", t.ID, err)
		}
	}
	return nil
}

// WriteManifest persists the run metadata file.
func WriteManifest(runRoot string, m *RunManifest) error {
	if runRoot == "" {
		return nil
	}
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return fmt.Errorf("manifest dir: %w", err)
	}
	m.SchemaVersion = manifestSchemaVersion
	return writeJSONAtomic(filepath.Join(runRoot, "manifest.json"), m)
}

// LoadCheckpoint reads swarm.state.json from runRoot.
func LoadCheckpoint(runRoot string) (*SwarmCheckpoint, error) {
	raw, err := os.ReadFile(filepath.Join(runRoot, "swarm.state.json"))
	if err != nil {
		return nil, err
	}
	var cp SwarmCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint parse: %w", err)
	}
	return &cp, nil
}
