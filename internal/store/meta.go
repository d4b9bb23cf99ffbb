package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetMeta returns the value for a metadata key, or "" if unset.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMeta stores a metadata key/value pair.
func (db *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// Watermark returns the newest imported message timestamp recorded for a
// platform, used to pick the starting point for incremental syncs. The zero
// time means no watermark has been recorded yet.
func (db *DB) Watermark(ctx context.Context, platform string) (time.Time, error) {
	value, err := db.GetMeta(ctx, watermarkKey(platform))
	if err != nil || value == "" {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark for %s: %w", platform, err)
	}
	return ts, nil
}

// SetWatermark advances the platform watermark. Older timestamps are ignored
// so a partial backfill cannot move the sync point backwards.
func (db *DB) SetWatermark(ctx context.Context, platform string, ts time.Time) error {
	current, err := db.Watermark(ctx, platform)
	if err != nil {
		return err
	}
	if !ts.After(current) {
		return nil
	}
	return db.SetMeta(ctx, watermarkKey(platform), ts.UTC().Format(time.RFC3339))
}

func watermarkKey(platform string) string {
	return "watermark_" + platform
}
