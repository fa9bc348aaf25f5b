// Package store keeps the invocation history: one row per run of the
// external manager. The history is informational; environment existence is
// always decided by the filesystem.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/p-arndt/pyexec/protocol"
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

type Store struct {
	db *sql.DB
}

// created_at is unix milliseconds.
const createTableSQL = `
CREATE TABLE IF NOT EXISTS invocations (
	id          TEXT PRIMARY KEY,
	env_id      TEXT NOT NULL,
	command     TEXT NOT NULL,
	args        TEXT NOT NULL DEFAULT '[]',
	exit_code   INTEGER NOT NULL,
	timed_out   INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_env_id ON invocations(env_id, created_at);
CREATE INDEX IF NOT EXISTS idx_invocations_created_at ON invocations(created_at);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 15s wait on lock (tool calls + reaper overlap)
	// journal_mode=WAL: concurrent reads during writes
	// synchronous=NORMAL: safe in WAL
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens the store, creating the parent directory and schema as needed.
// maxOpenConns controls the connection pool size (0 = default 4).
func New(dbPath string, maxOpenConns int) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) RecordInvocation(inv *protocol.Invocation) error {
	args := inv.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding args: %w", err)
	}
	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err = retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO invocations (id, env_id, command, args, exit_code, timed_out, duration_ms, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.EnvID, inv.Command, string(argsJSON), inv.ExitCode, inv.TimedOut, inv.DurationMs,
			createdAt.UTC().UnixMilli(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

// ListInvocations returns up to limit invocations of envID, newest first.
func (s *Store) ListInvocations(envID string, limit int) ([]*protocol.Invocation, error) {
	rows, err := s.db.Query(
		`SELECT id, env_id, command, args, exit_code, timed_out, duration_ms, created_at
		 FROM invocations WHERE env_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		envID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing invocations: %w", err)
	}
	defer rows.Close()
	return scanInvocations(rows)
}

// ListEnvIDs returns every environment id with recorded history, sorted.
func (s *Store) ListEnvIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT env_id FROM invocations ORDER BY env_id`)
	if err != nil {
		return nil, fmt.Errorf("listing env ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning env id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating env ids: %w", err)
	}
	return ids, nil
}

// DeleteInvocations removes the history of envID and returns the number of
// rows removed.
func (s *Store) DeleteInvocations(envID string) (int64, error) {
	return s.exec("deleting invocations", `DELETE FROM invocations WHERE env_id = ?`, envID)
}

// DeleteInvocationsBefore removes all rows created before t.
func (s *Store) DeleteInvocationsBefore(t time.Time) (int64, error) {
	return s.exec("pruning invocations", `DELETE FROM invocations WHERE created_at < ?`, t.UTC().UnixMilli())
}

func (s *Store) exec(op, query string, args ...any) (int64, error) {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(query, args...)
		return e
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanInvocation(row scannable) (*protocol.Invocation, error) {
	var inv protocol.Invocation
	var argsJSON string
	var createdAt int64
	err := row.Scan(
		&inv.ID, &inv.EnvID, &inv.Command, &argsJSON, &inv.ExitCode, &inv.TimedOut,
		&inv.DurationMs, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning invocation: %w", err)
	}
	if err := json.Unmarshal([]byte(argsJSON), &inv.Args); err != nil {
		return nil, fmt.Errorf("decoding args of %s: %w", inv.ID, err)
	}
	if inv.Args == nil {
		inv.Args = []string{}
	}
	inv.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &inv, nil
}

func scanInvocations(rows *sql.Rows) ([]*protocol.Invocation, error) {
	invs := []*protocol.Invocation{}
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}
	return invs, nil
}
