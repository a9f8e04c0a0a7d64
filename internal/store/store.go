// Package store keeps a history of suite runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ollamabenchmark/internal/speed"
)

// timeLayout has fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("suite run not found")

const schema = `
CREATE TABLE IF NOT EXISTS suite_runs (
	id             TEXT PRIMARY KEY,
	model          TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	tasks          INTEGER NOT NULL,
	failures       INTEGER NOT NULL,
	max_workers    INTEGER NOT NULL,
	real_duration  REAL NOT NULL,
	total_duration REAL NOT NULL,
	eval_rate_mean REAL,
	data           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suite_runs_model ON suite_runs(model, started_at);
`

// Store provides SQLite-backed suite run persistence
type Store struct {
	db *sql.DB
}

// Summary is the listing row of a stored run.
type Summary struct {
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	StartedAt     time.Time `json:"startedAt"`
	Tasks         int       `json:"tasks"`
	Failures      int       `json:"failures"`
	MaxWorkers    int       `json:"maxWorkers"`
	RealDuration  float64   `json:"realDuration"`
	TotalDuration float64   `json:"totalDuration"`
	EvalRateMean  *float64  `json:"evalRateMean"`
}

// ListOptions filters List. A zero Limit returns every run.
type ListOptions struct {
	Model string
	Limit int
}

// Open opens (and creates when missing) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts the run, replacing a stored run with the same id.
func (s *Store) Save(ctx context.Context, run *speed.SuiteRun) error {
	if run.ID == "" {
		return errors.New("suite run has no id")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding suite run: %w", err)
	}

	var evalRate sql.NullFloat64
	if m := run.EvalRateMean(); m != nil {
		evalRate = sql.NullFloat64{Float64: *m, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suite_runs (id, model, started_at, tasks, failures, max_workers, real_duration, total_duration, eval_rate_mean, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			started_at = excluded.started_at,
			tasks = excluded.tasks,
			failures = excluded.failures,
			max_workers = excluded.max_workers,
			real_duration = excluded.real_duration,
			total_duration = excluded.total_duration,
			eval_rate_mean = excluded.eval_rate_mean,
			data = excluded.data
	`,
		run.ID,
		run.Model,
		run.StartedAt.UTC().Format(timeLayout),
		len(run.Results),
		run.Failures(),
		run.Config.MaxWorkers,
		run.RealDuration,
		run.TotalDuration(),
		evalRate,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("saving suite run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads the full run with the given id.
func (s *Store) Get(ctx context.Context, id string) (*speed.SuiteRun, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM suite_runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var run speed.SuiteRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("decoding suite run %s: %w", id, err)
	}
	return &run, nil
}

// List returns run summaries, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `SELECT id, model, started_at, tasks, failures, max_workers, real_duration, total_duration, eval_rate_mean FROM suite_runs WHERE 1=1`
	var args []interface{}

	if opts.Model != "" {
		query += " AND model = ?"
		args = append(args, opts.Model)
	}
	query += " ORDER BY started_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		var startedAt string
		var evalRate sql.NullFloat64
		if err := rows.Scan(&sum.ID, &sum.Model, &startedAt, &sum.Tasks, &sum.Failures, &sum.MaxWorkers, &sum.RealDuration, &sum.TotalDuration, &evalRate); err != nil {
			return nil, err
		}
		sum.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing start time of %s: %w", sum.ID, err)
		}
		if evalRate.Valid {
			v := evalRate.Float64
			sum.EvalRateMean = &v
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes a run. Deleting an unknown id returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suite_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
