package store

import (
	"database/sql"
	"errors"
)

// Keys of the sync_state table.
const (
	StateCurrentUser  = "current_user"
	StateLastOutcome  = "last_cycle_outcome"
	StateLastCycleAt  = "last_cycle_at"
	StateLastPullFrom = "last_pull_since"
)

// SetState stores a sync checkpoint value.
func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, db.now().UnixMilli())
	return err
}

// GetState retrieves a sync checkpoint value. ok is false if the key is unset.
func (db *DB) GetState(key string) (value string, ok bool, err error) {
	err = db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// DeleteState removes a checkpoint.
func (db *DB) DeleteState(key string) error {
	_, err := db.Exec(`DELETE FROM sync_state WHERE key = ?`, key)
	return err
}

// CurrentUser returns the signed-in user id, or "" when nobody is signed in.
func (db *DB) CurrentUser() (string, error) {
	uid, _, err := db.GetState(StateCurrentUser)
	return uid, err
}
