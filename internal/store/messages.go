package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/chatvault/chatvault/internal/record"
)

// UpsertMessage inserts or updates a message by canonical id and returns the
// stored record. Because ids are derived deterministically from platform +
// native id, re-importing the same native message updates in place rather
// than duplicating.
func (db *DB) UpsertMessage(ctx context.Context, msg *record.Message) (*record.Message, error) {
	tags, err := json.Marshal(orEmptyMap(msg.Tags))
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	var replyTo sql.NullString
	if msg.ReplyToID != "" {
		replyTo = sql.NullString{String: msg.ReplyToID, Valid: true}
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO messages (
			id, thread_id, sender_id, content, timestamp, reply_to_id, tags,
			source_platform, source_native_id, source_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			reply_to_id = excluded.reply_to_id,
			tags = excluded.tags,
			source_url = excluded.source_url
	`, msg.ID, msg.ThreadID, msg.SenderID, msg.Content, msg.Timestamp, replyTo,
		string(tags), msg.Source.Platform, msg.Source.NativeID, msg.Source.URL)

	if err != nil {
		return nil, fmt.Errorf("upsert message %s: %w", msg.ID, err)
	}
	return db.GetMessage(ctx, msg.ID)
}

// GetMessage retrieves a message by canonical id, or nil if absent.
func (db *DB) GetMessage(ctx context.Context, id string) (*record.Message, error) {
	msg := &record.Message{}
	var tags string
	var replyTo sql.NullString

	err := db.conn.QueryRowContext(ctx, `
		SELECT id, thread_id, sender_id, content, timestamp, reply_to_id, tags,
		       source_platform, source_native_id, source_url
		FROM messages WHERE id = ?
	`, id).Scan(&msg.ID, &msg.ThreadID, &msg.SenderID, &msg.Content, &msg.Timestamp,
		&replyTo, &tags, &msg.Source.Platform, &msg.Source.NativeID, &msg.Source.URL)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	if replyTo.Valid {
		msg.ReplyToID = replyTo.String
	}
	if err := json.Unmarshal([]byte(tags), &msg.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return msg, nil
}

// CountThreadMessages returns the number of stored messages in one thread.
func (db *DB) CountThreadMessages(ctx context.Context, threadID string) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE thread_id = ?", threadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count thread messages: %w", err)
	}
	return n, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
