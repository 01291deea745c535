// Package state provides SQLite-based history for autoci.
// It records poll sessions, the experiments each session observed, and
// the CI job runs that launched them.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by OpenDriver.
const (
	// DriverSQLite is the pure-Go modernc driver.
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo mattn driver.
	DriverSQLite3 = "sqlite3"
)

// DB wraps an SQLite database connection with autoci-specific operations.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
	mu     sync.RWMutex
}

// DefaultDBPath returns the path to the autoci history database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "autoci", "autoci.db")
}

// Open opens an SQLite database at the given path with the pure-Go driver.
func Open(path string) (*DB, error) {
	return OpenDriver(DriverSQLite, path)
}

// OpenDriver opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled so `autoci status` can read while a poll writes.
func OpenDriver(driver, path string) (*DB, error) {
	switch driver {
	case "":
		driver = DriverSQLite
	case DriverSQLite, DriverSQLite3:
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{
		conn:   conn,
		path:   path,
		driver: driver,
	}, nil
}

// dsn builds a connection string carrying per-connection pragmas.
func dsn(driver, path string) string {
	if driver == DriverSQLite3 {
		return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1PollSessions},
		{2, migrationV2Experiments},
		{3, migrationV3JobRuns},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1PollSessions = `
CREATE TABLE IF NOT EXISTS poll_sessions (
	id TEXT PRIMARY KEY,
	output_root TEXT NOT NULL,
	interval_ms INTEGER NOT NULL,
	max_iterations INTEGER NOT NULL,
	iterations INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	timed_out INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_poll_sessions_started_at ON poll_sessions(started_at);
`

const migrationV2Experiments = `
CREATE TABLE IF NOT EXISTS experiments (
	session_id TEXT NOT NULL REFERENCES poll_sessions(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending',
	last_line TEXT,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, name)
);

CREATE INDEX IF NOT EXISTS idx_experiments_state ON experiments(state);
`

const migrationV3JobRuns = `
CREATE TABLE IF NOT EXISTS job_runs (
	id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	machine TEXT NOT NULL,
	compiler TEXT,
	pr_number INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	comment_id TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_runs_started_at ON job_runs(started_at);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PurgeOlderThan deletes poll sessions and job runs started before the
// cutoff. Experiments go with their session. Returns the number of rows
// deleted across both tables.
func (db *DB) PurgeOlderThan(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	var total int64
	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM experiments WHERE session_id IN
				(SELECT id FROM poll_sessions WHERE started_at < ?)
		`, cutoff); err != nil {
			return err
		}
		for _, q := range []string{
			"DELETE FROM poll_sessions WHERE started_at < ?",
			"DELETE FROM job_runs WHERE started_at < ?",
		} {
			res, err := tx.Exec(q, cutoff)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge old history: %w", err)
	}
	return total, nil
}
