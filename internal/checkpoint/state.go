package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTime = "2006-01-02 15:04:05"

// State manages run history in SQLite
type State struct {
	db *sql.DB
}

// New creates a new state manager
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "scrubber.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		phase TEXT NOT NULL DEFAULT 'idle',
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		error_message TEXT,
		config TEXT
	);

	CREATE TABLE IF NOT EXISTS collection_results (
		run_id TEXT REFERENCES runs(id),
		collection TEXT NOT NULL,
		matched INTEGER NOT NULL DEFAULT 0,
		modified INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (run_id, collection)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// CreateRun creates a new scrub run
func (s *State) CreateRun(id, source, destination string, config any) error {
	configJSON, _ := json.Marshal(config)
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status, source, destination, config)
		VALUES (?, ?, 'running', ?, ?, ?)
	`, id, time.Now().UTC().Format(sqliteTime), source, destination, string(configJSON))
	return err
}

// UpdatePhase records the pipeline phase a run has reached
func (s *State) UpdatePhase(runID, phase string) error {
	_, err := s.db.Exec(`UPDATE runs SET phase = ? WHERE id = ?`, phase, runID)
	return err
}

// CompleteRun marks a run as complete
func (s *State) CompleteRun(id, status, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, status, time.Now().UTC().Format(sqliteTime), nullIfEmpty(errorMsg), id)
	return err
}

// RecordCollection stores the outcome for one collection
func (s *State) RecordCollection(runID string, r CollectionResult) error {
	_, err := s.db.Exec(`
		INSERT INTO collection_results (run_id, collection, matched, modified, status, error_message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, collection) DO UPDATE SET
			matched = excluded.matched,
			modified = excluded.modified,
			status = excluded.status,
			error_message = excluded.error_message,
			recorded_at = excluded.recorded_at
	`, runID, r.Collection, r.Matched, r.Modified, r.Status, nullIfEmpty(r.Error), time.Now().UTC().Format(sqliteTime))
	return err
}

// GetCollectionResults returns the per-collection outcomes of a run in the
// order they were scrubbed
func (s *State) GetCollectionResults(runID string) ([]CollectionResult, error) {
	rows, err := s.db.Query(`
		SELECT collection, matched, modified, status, error_message
		FROM collection_results WHERE run_id = ?
		ORDER BY recorded_at, rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CollectionResult
	for rows.Next() {
		var r CollectionResult
		var errMsg sql.NullString
		if err := rows.Scan(&r.Collection, &r.Matched, &r.Modified, &r.Status, &errMsg); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetAllRuns returns the most recent runs for history
func (s *State) GetAllRuns() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, completed_at, status, phase, source, destination, error_message
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 20
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunByID returns a run, or nil when it does not exist
func (s *State) GetRunByID(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, completed_at, status, phase, source, destination, error_message
		FROM runs WHERE id = ?
	`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// CleanupOldRuns removes finished runs completed more than retentionDays
// ago, along with their collection results. Running runs are kept.
func (s *State) CleanupOldRuns(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(sqliteTime)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM collection_results WHERE run_id IN (
			SELECT id FROM runs WHERE status != 'running' AND completed_at < ?
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("deleting collection results: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM runs WHERE status != 'running' AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting runs: %w", err)
	}
	deleted, _ := res.RowsAffected()

	return deleted, tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var startedAtStr string
	var completedAtStr, errMsg sql.NullString
	if err := row.Scan(&r.ID, &startedAtStr, &completedAtStr, &r.Status, &r.Phase,
		&r.Source, &r.Destination, &errMsg); err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(sqliteTime, startedAtStr)
	if completedAtStr.Valid {
		t, _ := time.Parse(sqliteTime, completedAtStr.String)
		r.CompletedAt = &t
	}
	r.Error = errMsg.String
	return &r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
