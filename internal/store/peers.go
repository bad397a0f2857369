package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpdatePeer caches profile metadata for a remote participant and backfills it
// onto every message exchanged with them. Empty fields leave known values alone.
func (db *DB) UpdatePeer(p *Peer) (int64, error) {
	if p.UID == "" {
		return 0, errors.New("peer uid is empty")
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO peers (uid, name, username, avatar, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE peers.name END,
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE peers.username END,
			avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE peers.avatar END,
			updated_at = excluded.updated_at`,
		p.UID, p.Name, p.Username, p.Avatar, now); err != nil {
		return 0, fmt.Errorf("upsert peer %q: %w", p.UID, err)
	}

	const peerRows = `(sender_id = ? AND inbound = 1) OR (recipient_id = ? AND outbound = 1)`
	chatIDs, err := distinctChats(tx, `SELECT DISTINCT chat_id FROM messages WHERE `+peerRows, p.UID, p.UID)
	if err != nil {
		return 0, fmt.Errorf("peer chats: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE messages SET
			peer_uid = ?,
			peer_name = COALESCE(NULLIF(?, ''), peer_name),
			peer_username = COALESCE(NULLIF(?, ''), peer_username),
			peer_avatar = COALESCE(NULLIF(?, ''), peer_avatar),
			updated_at = ?
		WHERE `+peerRows,
		p.UID, p.Name, p.Username, p.Avatar, now, p.UID, p.UID)
	if err != nil {
		return 0, fmt.Errorf("backfill messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	db.notify(chatIDs...)
	return res.RowsAffected()
}

// GetPeer returns cached metadata for uid, or nil if none is known.
func (db *DB) GetPeer(uid string) (*Peer, error) {
	var p Peer
	err := db.QueryRow(`SELECT uid, name, username, avatar FROM peers WHERE uid = ?`, uid).
		Scan(&p.UID, &p.Name, &p.Username, &p.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func distinctChats(tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
