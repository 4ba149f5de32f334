// Package journal persists probe decisions in SQLite.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"resilience/internal/platform/sqlite"
	"resilience/pkg/retry"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Kind tells what an entry records.
type Kind string

const (
	KindRetry   Kind = "retry"
	KindOutcome Kind = "outcome"
)

// Outcomes of a check.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeExhausted = "exhausted"
	OutcomeCanceled  = "canceled"
)

// Entry is one journaled event. Retry entries carry the scheduled delay,
// outcome entries the final result of a check.
type Entry struct {
	ID      int64         `json:"id"`
	RunID   string        `json:"run_id"`
	Target  string        `json:"target"`
	Kind    Kind          `json:"kind"`
	Attempt int64         `json:"attempt"`
	Outcome string        `json:"outcome,omitempty"`
	Delay   time.Duration `json:"delay_ns"`
	Error   string        `json:"error,omitempty"`
	At      time.Time     `json:"at"`
}

// Store reads and writes journal entries.
type Store struct {
	db     *sql.DB
	runner *sqlite.TxRunner
	now    func() time.Time
	log    *slog.Logger
}

// Open opens the journal at path and applies migrations. Opening is retried
// under r, so a locked database file at boot does not fail the daemon.
func Open(ctx context.Context, path string, r retry.Retry[struct{}], log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := retry.DoValue(ctx, r, func(ctx context.Context) (*sql.DB, error) {
		db, err := sqlite.NewDB(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := sqlite.ApplyMigrations(db, migrations, migrationsDir); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	runner := sqlite.NewTxRunner(db).WithLogger(log)
	return New(db, runner, log), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, runner *sqlite.TxRunner, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, runner: runner, now: time.Now, log: log}
}

// Close stops the write queue and closes the database.
func (s *Store) Close() error {
	_ = s.runner.Close()
	return s.db.Close()
}

// Record appends e. A zero At is set to the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.runner.GetQuerier(ctx).ExecContext(ctx,
			`INSERT INTO entries (run_id, target, kind, attempt, outcome, delay_ms, error, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RunID, e.Target, string(e.Kind), e.Attempt, e.Outcome,
			e.Delay.Milliseconds(), e.Error, e.At.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert journal entry: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first. An empty target matches
// all targets.
func (s *Store) Recent(ctx context.Context, target string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.runner.GetQuerier(ctx).QueryContext(ctx,
		`SELECT id, run_id, target, kind, attempt, outcome, delay_ms, error, at
		 FROM entries
		 WHERE ? = '' OR target = ?
		 ORDER BY at DESC, id DESC
		 LIMIT ?`, target, target, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			kind    string
			delayMS int64
			atMS    int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Target, &kind, &e.Attempt, &e.Outcome, &delayMS, &e.Error, &atMS); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Kind = Kind(kind)
		e.Delay = time.Duration(delayMS) * time.Millisecond
		e.At = time.UnixMilli(atMS).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than retention and returns how many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UnixMilli()
	var n int64
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		res, err := s.runner.GetQuerier(ctx).ExecContext(ctx, `DELETE FROM entries WHERE at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("prune journal: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("journal pruned", "deleted", n, "retention", retention)
	return n, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
