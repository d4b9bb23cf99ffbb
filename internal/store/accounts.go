package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/chatvault/chatvault/internal/record"
)

// UpsertAccount inserts or updates an account by canonical id. Name and
// handles learned on later sightings overwrite earlier values, but an empty
// display name never clobbers a known one.
func (db *DB) UpsertAccount(ctx context.Context, acct *record.Account) error {
	handles, err := json.Marshal(orEmpty(acct.Handles))
	if err != nil {
		return fmt.Errorf("marshal handles: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO accounts (id, platform, native_id, display_name, handles, is_self)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE display_name END,
			handles = CASE WHEN excluded.handles != '[]' THEN excluded.handles ELSE handles END,
			is_self = is_self OR excluded.is_self,
			updated_at = CURRENT_TIMESTAMP
	`, acct.ID, acct.Platform, acct.NativeID, acct.DisplayName, string(handles), acct.IsSelf)

	if err != nil {
		return fmt.Errorf("upsert account %s: %w", acct.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by canonical id, or nil if absent.
func (db *DB) GetAccount(ctx context.Context, id string) (*record.Account, error) {
	acct := &record.Account{}
	var handles string

	err := db.conn.QueryRowContext(ctx, `
		SELECT id, platform, native_id, display_name, handles, is_self
		FROM accounts WHERE id = ?
	`, id).Scan(&acct.ID, &acct.Platform, &acct.NativeID, &acct.DisplayName, &handles, &acct.IsSelf)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(handles), &acct.Handles); err != nil {
		return nil, fmt.Errorf("unmarshal handles: %w", err)
	}
	return acct, nil
}

func orEmpty(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
