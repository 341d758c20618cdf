// Package runstore is the run ledger: one row per sensitivity run and one
// row per recorded trial, so interrupted runs keep their completed trials
// and earlier runs can be replayed.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/demand.sensitivity/internal/db"
	"github.com/banshee-data/demand.sensitivity/internal/records"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// RunRecord represents a persisted sensitivity run.
type RunRecord struct {
	RunID        string          `json:"run_id"`
	Status       string          `json:"status"`
	Seed         uint64          `json:"seed"`
	Trials       int             `json:"trials"`
	Buildings    []string        `json:"buildings"`
	Params       json.RawMessage `json:"params"`
	MetricColumn string          `json:"metric_column"`
	OutputPath   string          `json:"output_path,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	Error        string          `json:"error,omitempty"`
	ToolVersion  string          `json:"tool_version,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// TrialRecord is one recorded trial of a run.
type TrialRecord struct {
	RunID      string                   `json:"run_id"`
	Index      int                      `json:"index"`
	Seed       uint64                   `json:"seed"`
	Params     map[string]records.Value `json:"params"`
	Metrics    map[string]float64       `json:"metrics"`
	Total      float64                  `json:"total"`
	Duration   time.Duration            `json:"duration"`
	RecordedAt time.Time                `json:"recorded_at"`
}

// Store provides persistence for runs and trials.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over a database migrated by package db.
func NewStore(sqlDB *sql.DB) *Store {
	return &Store{db: sqlDB}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// InsertRun creates the run row when a run starts.
func (s *Store) InsertRun(rec RunRecord) error {
	buildings, err := json.Marshal(rec.Buildings)
	if err != nil {
		return fmt.Errorf("encoding buildings for run %s: %w", rec.RunID, err)
	}
	if rec.Status == "" {
		rec.Status = StatusRunning
	}
	query := `
		INSERT INTO sensitivity_runs (
			run_id, status, seed, trials, buildings_json, params_json,
			metric_column, output_path, tool_version, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = db.RetryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID,
			rec.Status,
			seedToSQL(rec.Seed),
			rec.Trials,
			string(buildings),
			string(orEmptyJSON(rec.Params)),
			rec.MetricColumn,
			nullStr(rec.OutputPath),
			nullStr(rec.ToolVersion),
			rec.StartedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", rec.RunID, err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(runID, status, outputPath string, summary json.RawMessage, errMsg string, completedAt time.Time) error {
	if status != StatusComplete && status != StatusFailed {
		return fmt.Errorf("finishing run %s: invalid terminal status %q", runID, status)
	}
	query := `
		UPDATE sensitivity_runs
		SET status = ?, output_path = ?, summary_json = ?, error = ?, completed_at = ?
		WHERE run_id = ?
	`
	var affected int64
	err := db.RetryOnBusy(func() error {
		res, err := s.db.Exec(query,
			status,
			nullStr(outputPath),
			nullJSON(summary),
			nullStr(errMsg),
			completedAt.UTC().Format(time.RFC3339Nano),
			runID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if affected == 0 {
		return fmt.Errorf("finishing run %s: not found", runID)
	}
	return nil
}

// InsertTrial appends one recorded trial.
func (s *Store) InsertTrial(rec TrialRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("encoding params for trial %d: %w", rec.Index, err)
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("encoding metrics for trial %d: %w", rec.Index, err)
	}
	query := `
		INSERT INTO sensitivity_trials (
			run_id, trial_index, seed, params_json, metrics_json, total, duration_ms, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = db.RetryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID,
			rec.Index,
			seedToSQL(rec.Seed),
			string(params),
			string(metrics),
			rec.Total,
			rec.Duration.Milliseconds(),
			rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting trial %d of run %s: %w", rec.Index, rec.RunID, err)
	}
	return nil
}

// ListTrials returns a run's trials in index order.
func (s *Store) ListTrials(runID string) ([]TrialRecord, error) {
	rows, err := s.db.Query(`
		SELECT trial_index, seed, params_json, metrics_json, total, duration_ms, recorded_at
		FROM sensitivity_trials
		WHERE run_id = ?
		ORDER BY trial_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing trials for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []TrialRecord
	for rows.Next() {
		rec := TrialRecord{RunID: runID}
		var (
			seed            int64
			params, metrics string
			durationMS      int64
			recordedAt      string
		)
		if err := rows.Scan(&rec.Index, &seed, &params, &metrics, &rec.Total, &durationMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning trial row: %w", err)
		}
		rec.Seed = uint64(seed)
		if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
			return nil, fmt.Errorf("decoding params for trial %d: %w", rec.Index, err)
		}
		if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
			return nil, fmt.Errorf("decoding metrics for trial %d: %w", rec.Index, err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		t, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at for trial %d: %w", rec.Index, err)
		}
		rec.RecordedAt = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun returns a single run by ID, or nil when it does not exist.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	query := `
		SELECT run_id, status, seed, trials, buildings_json, params_json, metric_column,
		       output_path, summary_json, error, tool_version, started_at, completed_at
		FROM sensitivity_runs
		WHERE run_id = ?
	`
	var rec RunRecord
	var seed int64
	var buildings, params, startedAt string
	var outputPath, summary, errMsg, toolVers, completedAt sql.NullString

	err := s.db.QueryRow(query, runID).Scan(
		&rec.RunID, &rec.Status, &seed, &rec.Trials, &buildings, &params, &rec.MetricColumn,
		&outputPath, &summary, &errMsg, &toolVers, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}

	rec.Seed = uint64(seed)
	if err := json.Unmarshal([]byte(buildings), &rec.Buildings); err != nil {
		return nil, fmt.Errorf("decoding buildings for run %s: %w", runID, err)
	}
	rec.Params = json.RawMessage(params)
	rec.OutputPath = outputPath.String
	rec.Summary = jsonOrNil(summary)
	rec.Error = errMsg.String
	rec.ToolVersion = toolVers.String
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at for run %s: %w", runID, err)
	}
	rec.StartedAt = t
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at for run %s: %w", runID, err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// RunSummary is a lightweight RunRecord for list views.
type RunSummary struct {
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	Trials      int        `json:"trials"`
	Recorded    int        `json:"recorded"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ListRuns returns recent runs, most recent first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT r.run_id, r.status, r.trials, r.started_at, r.completed_at, r.error,
		       (SELECT COUNT(*) FROM sensitivity_trials t WHERE t.run_id = r.run_id)
		FROM sensitivity_runs r
		ORDER BY r.started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			rec         RunSummary
			startedAt   string
			completedAt sql.NullString
			errMsg      sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Status, &rec.Trials, &startedAt, &completedAt, &errMsg, &rec.Recorded); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at for run row: %w", err)
		}
		rec.StartedAt = t
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing completed_at for run row: %w", err)
			}
			rec.CompletedAt = &t
		}
		rec.Error = errMsg.String
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and, by cascade, its trials.
func (s *Store) DeleteRun(runID string) error {
	return db.RetryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM sensitivity_runs WHERE run_id = ?`, runID)
		return err
	})
}

// seedToSQL stores the full uint64 range in a signed INTEGER column.
func seedToSQL(seed uint64) int64 {
	return int64(seed)
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func jsonOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

func orEmptyJSON(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("[]")
	}
	return b
}
