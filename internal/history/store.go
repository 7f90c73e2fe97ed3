// Package history records the terminal result of every execution in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/execution"
)

// DefaultLimit caps List when no limit is given.
const DefaultLimit = 50

// Store is the execution history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		CREATE TABLE IF NOT EXISTS executions (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL,
			method      TEXT NOT NULL,
			state       TEXT NOT NULL,
			exit_code   INTEGER NOT NULL,
			code        TEXT NOT NULL,
			error       TEXT NOT NULL,
			iterations  INTEGER NOT NULL,
			stopped     INTEGER NOT NULL,
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			output_path TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_executions_name ON executions(name);
	`)
	if err != nil {
		return fmt.Errorf("creating history tables: %w", err)
	}
	return nil
}

// Record appends a terminal result.
func (s *Store) Record(ctx context.Context, res execution.Result) error {
	stopped := 0
	if res.Stopped {
		stopped = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, name, method, state, exit_code, code, error, iterations, stopped, started_at, finished_at, output_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID, res.Name, res.Method, res.State.String(), res.ExitCode, res.Code, res.Error,
		res.Iterations, stopped,
		res.StartedAt.UTC().Format(time.RFC3339Nano), res.FinishedAt.UTC().Format(time.RFC3339Nano),
		res.OutputPath)
	if err != nil {
		return errdefs.Wrap(errdefs.ErrStorageIO, err, "recording execution")
	}
	return nil
}

// List returns the most recent results first. An empty name lists every
// definition; limit <= 0 means DefaultLimit.
func (s *Store) List(ctx context.Context, name string, limit int) ([]execution.Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := `
		SELECT id, name, method, state, exit_code, code, error, iterations, stopped, started_at, finished_at, output_path
		FROM executions`
	args := []any{}
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrStorageIO, err, "querying history")
	}
	defer rows.Close()

	var results []execution.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrStorageIO, err, "querying history")
	}
	return results, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanResult(rows *sql.Rows) (execution.Result, error) {
	var (
		res                 execution.Result
		state               string
		stopped             int
		startedAt, finished string
	)
	err := rows.Scan(&res.ID, &res.Name, &res.Method, &state, &res.ExitCode, &res.Code, &res.Error,
		&res.Iterations, &stopped, &startedAt, &finished, &res.OutputPath)
	if err != nil {
		return res, errdefs.Wrap(errdefs.ErrStorageIO, err, "scanning history row")
	}
	if err := res.State.UnmarshalText([]byte(state)); err != nil {
		return res, errdefs.Wrap(errdefs.ErrSerialization, err, "history row "+res.ID)
	}
	res.Stopped = stopped != 0
	if res.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return res, errdefs.Wrap(errdefs.ErrSerialization, err, "history row "+res.ID)
	}
	if res.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return res, errdefs.Wrap(errdefs.ErrSerialization, err, "history row "+res.ID)
	}
	return res, nil
}
