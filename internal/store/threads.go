package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/chatvault/chatvault/internal/record"
)

// UpsertThread inserts or updates a thread by canonical id. The derived
// message_count/last_activity columns are left alone here; they belong to
// RebuildDerivedViews.
func (db *DB) UpsertThread(ctx context.Context, thread *record.Thread) error {
	participants, err := json.Marshal(orEmpty(thread.Participants))
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO threads (id, platform, native_id, type, title, participants)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE title END,
			participants = CASE WHEN excluded.participants != '[]' THEN excluded.participants ELSE participants END,
			updated_at = CURRENT_TIMESTAMP
	`, thread.ID, thread.Platform, thread.NativeID, thread.Type, thread.Title, string(participants))

	if err != nil {
		return fmt.Errorf("upsert thread %s: %w", thread.ID, err)
	}
	return nil
}

// GetThread retrieves a thread by canonical id, or nil if absent.
func (db *DB) GetThread(ctx context.Context, id string) (*record.Thread, error) {
	thread := &record.Thread{}
	var participants string
	var lastActivity sql.NullTime

	err := db.conn.QueryRowContext(ctx, `
		SELECT id, platform, native_id, type, title, participants, message_count, last_activity
		FROM threads WHERE id = ?
	`, id).Scan(&thread.ID, &thread.Platform, &thread.NativeID, &thread.Type,
		&thread.Title, &participants, &thread.MessageCount, &lastActivity)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(participants), &thread.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		thread.LastActivity = &t
	}
	return thread, nil
}

// ListThreads returns all threads for a platform, most recently active
// first.
func (db *DB) ListThreads(ctx context.Context, platform string) ([]*record.Thread, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, platform, native_id, type, title, participants, message_count, last_activity
		FROM threads
		WHERE platform = ? OR ? = ''
		ORDER BY last_activity DESC
	`, platform, platform)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []*record.Thread
	for rows.Next() {
		thread := &record.Thread{}
		var participants string
		var lastActivity sql.NullTime
		if err := rows.Scan(&thread.ID, &thread.Platform, &thread.NativeID, &thread.Type,
			&thread.Title, &participants, &thread.MessageCount, &lastActivity); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &thread.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
		if lastActivity.Valid {
			t := lastActivity.Time
			thread.LastActivity = &t
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}
