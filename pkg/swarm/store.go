// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

// RunStore persists run and task outcomes for later inspection. Optional:
// the orchestrator works without one.
type RunStore interface {
	CreateRun(runID, goal string) error
	FinishRun(runID string, result *SwarmExecutionResult) error
	SaveTaskResult(runID string, task *SwarmTask, result *SwarmTaskResult, score float64) error
	Close() error
}

// RunRecord is one persisted run row.
type RunRecord struct {
	RunID      string `json:"run_id"`
	Goal       string `json:"goal"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	Stats      string `json:"stats,omitempty"` // JSON SwarmStats
}

// SQLiteRunStore backs RunStore with a local SQLite database.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore opens (and initializes) the database at dbPath.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteRunStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			goal TEXT,
			success INTEGER,
			reason TEXT,
			created_at INTEGER,
			finished_at INTEGER,
			stats JSON
		);`,
		`CREATE TABLE IF NOT EXISTS task_results (
			run_id TEXT,
			task_id TEXT,
			type TEXT,
			description TEXT,
			success INTEGER,
			degraded INTEGER,
			score REAL,
			failure_mode TEXT,
			tokens_used INTEGER,
			cost_usd REAL,
			duration_ms INTEGER,
			artifacts JSON,
			PRIMARY KEY (run_id, task_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteRunStore) CreateRun(runID, goal string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO runs (run_id, goal, success, reason, created_at) VALUES (?, ?, 0, '', ?)",
		runID, goal, time.Now().UnixMilli())
	return err
}

func (s *SQLiteRunStore) FinishRun(runID string, result *SwarmExecutionResult) error {
	stats, _ := json.Marshal(result.Stats)
	_, err := s.db.Exec(
		"UPDATE runs SET success=?, reason=?, finished_at=?, stats=? WHERE run_id=?",
		boolToInt(result.Success), result.Reason, time.Now().UnixMilli(), stats, runID)
	return err
}

func (s *SQLiteRunStore) SaveTaskResult(runID string, task *SwarmTask, result *SwarmTaskResult, score float64) error {
	artifacts, _ := json.Marshal(result.ArtifactsChanged)
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO task_results
		 (run_id, task_id, type, description, success, degraded, score, failure_mode, tokens_used, cost_usd, duration_ms, artifacts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, task.ID, string(task.Type), task.Description,
		boolToInt(result.Success), boolToInt(result.AcceptedWithDegradation), score,
		string(result.FailureMode), result.TokensUsed, result.CostUSD, result.DurationMs, artifacts)
	return err
}

// GetRun loads one run row.
func (s *SQLiteRunStore) GetRun(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(
		"SELECT run_id, goal, success, reason, created_at, COALESCE(finished_at, 0), COALESCE(stats, '') FROM runs WHERE run_id=?",
		runID)
	var r RunRecord
	var success int
	if err := row.Scan(&r.RunID, &r.Goal, &success, &r.Reason, &r.CreatedAt, &r.FinishedAt, &r.Stats); err != nil {
		return nil, err
	}
	r.Success = success != 0
	return &r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteRunStore) ListRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT run_id, goal, success, reason, created_at, COALESCE(finished_at, 0), COALESCE(stats, '') FROM runs ORDER BY created_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*RunRecord
	for rows.Next() {
		var r RunRecord
		var success int
		if err := rows.Scan(&r.RunID, &r.Goal, &success, &r.Reason, &r.CreatedAt, &r.FinishedAt, &r.Stats); err != nil {
			return nil, err
		}
		r.Success = success != 0
		list = append(list, &r)
	}
	return list, rows.Err()
}

func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}
