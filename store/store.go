// Package store persists search history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thalesfsp/tune"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS studies (
	study_id    TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trials (
	trial_id    TEXT PRIMARY KEY,
	study_id    TEXT NOT NULL,
	number      INTEGER NOT NULL,
	params_json TEXT NOT NULL,
	score       REAL NOT NULL,
	failed      INTEGER NOT NULL,
	error       TEXT,
	duration_ns INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (study_id) REFERENCES studies(study_id)
);

CREATE INDEX IF NOT EXISTS trials_by_study ON trials(study_id, number);
`

// Store records trials of any number of studies. It implements
// tune.Recorder.
type Store struct {
	db *sql.DB
}

// StudySummary aggregates the trials of one study.
type StudySummary struct {
	ID        string
	CreatedAt time.Time
	Trials    int
	Failed    int
	BestScore float64
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// One writer at a time keeps SQLite free of lock contention.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()

			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTrial stores one trial, creating its study on first use.
func (s *Store) RecordTrial(ctx context.Context, study string, trial tune.TrialResult) error {
	params, err := json.Marshal(trial.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	var errText sql.NullString
	if trial.Err != nil {
		errText = sql.NullString{String: trial.Err.Error(), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO studies (study_id, created_at) VALUES (?, ?)`, study, now); err != nil {
		return fmt.Errorf("insert study: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trials (trial_id, study_id, number, params_json, score, failed, error, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trial.ID, study, trial.Number, string(params), trial.Score, trial.Failed, errText,
		trial.Duration.Nanoseconds(), now); err != nil {
		return fmt.Errorf("insert trial: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Trials returns the trials of a study in proposal order. Numeric
// parameters come back as float64; read them with tune.Params accessors.
func (s *Store) Trials(ctx context.Context, study string) ([]tune.TrialResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trial_id, number, params_json, score, failed, error, duration_ns
		 FROM trials WHERE study_id = ? ORDER BY number`, study)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var out []tune.TrialResult

	for rows.Next() {
		var (
			t       tune.TrialResult
			params  string
			errText sql.NullString
			nanos   int64
		)

		if err := rows.Scan(&t.ID, &t.Number, &params, &t.Score, &t.Failed, &errText, &nanos); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}

		if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params of trial %s: %w", t.ID, err)
		}

		if errText.Valid {
			t.Err = errors.New(errText.String)
		}

		t.Duration = time.Duration(nanos)
		out = append(out, t)
	}

	return out, rows.Err()
}

// Studies summarizes every recorded study, oldest first.
func (s *Store) Studies(ctx context.Context) ([]StudySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.study_id, s.created_at, COUNT(t.trial_id),
		       COALESCE(SUM(t.failed), 0), COALESCE(MIN(t.score), 0)
		FROM studies s LEFT JOIN trials t ON t.study_id = s.study_id
		GROUP BY s.study_id, s.created_at
		ORDER BY s.created_at, s.study_id`)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var out []StudySummary

	for rows.Next() {
		var (
			sum     StudySummary
			created string
		)

		if err := rows.Scan(&sum.ID, &created, &sum.Trials, &sum.Failed, &sum.BestScore); err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}

		sum.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at of study %s: %w", sum.ID, err)
		}

		out = append(out, sum)
	}

	return out, rows.Err()
}

var _ tune.Recorder = (*Store)(nil)
