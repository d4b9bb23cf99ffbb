// Package store persists the canonical archive: accounts, threads, and
// messages, all keyed by canonical ids so every write is an idempotent
// upsert.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// DB wraps the SQLite archive.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the archive database at the given path.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{conn: conn, path: dbPath}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) initSchema() error {
	var currentVersion int
	err := db.conn.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&currentVersion)
	if err != nil {
		// Fresh database: the version table does not exist yet.
		if _, execErr := db.conn.Exec(schemaSQL); execErr != nil {
			return fmt.Errorf("execute schema: %w", execErr)
		}
		return nil
	}
	if currentVersion < schemaVersion {
		return fmt.Errorf("schema migration needed from version %d to %d (not implemented)", currentVersion, schemaVersion)
	}
	return nil
}

// DefaultPath returns the default archive database path.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./chatvault.db"
	}
	return filepath.Join(home, ".chatvault", "chatvault.db")
}

// RebuildDerivedViews recomputes the threads table's derived projections
// (message count, last activity) from the messages table. Run once at the
// end of a bulk import instead of updating per message.
func (db *DB) RebuildDerivedViews(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE threads SET
			message_count = (SELECT COUNT(*) FROM messages m WHERE m.thread_id = threads.id),
			last_activity = (SELECT MAX(timestamp) FROM messages m WHERE m.thread_id = threads.id),
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("rebuild derived views: %w", err)
	}
	return nil
}

// ArchiveStats summarizes the archive for operator visibility.
type ArchiveStats struct {
	Messages     int64      `json:"messages"`
	Accounts     int64      `json:"accounts"`
	Threads      int64      `json:"threads"`
	Earliest     *time.Time `json:"earliest,omitempty"`
	Latest       *time.Time `json:"latest,omitempty"`
	DatabaseSize int64      `json:"database_size_bytes"`
}

// Stats returns archive statistics.
func (db *DB) Stats(ctx context.Context) (*ArchiveStats, error) {
	stats := &ArchiveStats{}

	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&stats.Messages); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&stats.Accounts); err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM threads").Scan(&stats.Threads); err != nil {
		return nil, fmt.Errorf("count threads: %w", err)
	}

	err := db.conn.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM messages").Scan(&stats.Earliest, &stats.Latest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("get date range: %w", err)
	}

	if info, err := os.Stat(db.path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}
