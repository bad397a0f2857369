package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const messageColumns = `message_id, chat_id, sender_id, recipient_id, body, time_sent,
	outbound, inbound, synced, failed, last_error, attempts,
	COALESCE(peer_uid, ''), COALESCE(peer_name, ''), COALESCE(peer_username, ''), COALESCE(peer_avatar, '')`

// synced never reverts and known peer metadata is never replaced by NULL.
const upsertMessageSQL = `
	INSERT INTO messages (message_id, chat_id, sender_id, recipient_id, body, time_sent,
		outbound, inbound, synced, failed, last_error, attempts,
		peer_uid, peer_name, peer_username, peer_avatar, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)
	ON CONFLICT(message_id) DO UPDATE SET
		chat_id = excluded.chat_id,
		sender_id = excluded.sender_id,
		recipient_id = excluded.recipient_id,
		body = excluded.body,
		time_sent = excluded.time_sent,
		outbound = excluded.outbound,
		inbound = excluded.inbound,
		synced = MAX(messages.synced, excluded.synced),
		failed = CASE WHEN MAX(messages.synced, excluded.synced) = 1 THEN 0 ELSE excluded.failed END,
		last_error = excluded.last_error,
		attempts = MAX(messages.attempts, excluded.attempts),
		peer_uid = COALESCE(excluded.peer_uid, messages.peer_uid),
		peer_name = COALESCE(excluded.peer_name, messages.peer_name),
		peer_username = COALESCE(excluded.peer_username, messages.peer_username),
		peer_avatar = COALESCE(excluded.peer_avatar, messages.peer_avatar),
		updated_at = excluded.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var m Message
	err := r.Scan(&m.MessageID, &m.ChatID, &m.SenderID, &m.RecipientID, &m.Body, &m.TimeSent,
		&m.Outbound, &m.Inbound, &m.Synced, &m.Failed, &m.LastError, &m.Attempts,
		&m.PeerUID, &m.PeerName, &m.PeerUsername, &m.PeerAvatar)
	return m, err
}

func (db *DB) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func validateMessage(m *Message) error {
	switch {
	case m.MessageID == "":
		return errors.New("message id is empty")
	case m.ChatID == "":
		return fmt.Errorf("message %q: chat id is empty", m.MessageID)
	case !m.Synced && !m.Outbound:
		return fmt.Errorf("message %q: unsynced message must be outbound", m.MessageID)
	}
	return nil
}

// UpsertMessages inserts or replaces messages keyed by message id in a single
// transaction. Either the whole batch is stored or none of it is.
func (db *DB) UpsertMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for i := range msgs {
		if err := validateMessage(&msgs[i]); err != nil {
			return err
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(upsertMessageSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := db.now().UnixMilli()
	chatIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, err := stmt.Exec(m.MessageID, m.ChatID, m.SenderID, m.RecipientID, m.Body, m.TimeSent,
			m.Outbound, m.Inbound, m.Synced, m.Failed, m.LastError, m.Attempts,
			m.PeerUID, m.PeerName, m.PeerUsername, m.PeerAvatar, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.MessageID, err)
		}
		chatIDs = append(chatIDs, m.ChatID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	db.notify(chatIDs...)
	return nil
}

// UpsertMessage is UpsertMessages for a single row.
func (db *DB) UpsertMessage(m *Message) error {
	return db.UpsertMessages([]Message{*m})
}

// GetMessage returns a message by id, or nil if it does not exist.
func (db *DB) GetMessage(messageID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// PendingOutbound returns unsent outbound messages oldest first. This order is
// the exact send order of the next push phase.
func (db *DB) PendingOutbound() ([]Message, error) {
	return db.queryMessages(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE outbound = 1 AND synced = 0 AND failed = 0
		ORDER BY time_sent ASC, message_id ASC`)
}

// ListChatMessages returns every message of a chat in display order.
func (db *DB) ListChatMessages(chatID string) ([]Message, error) {
	return db.queryMessages(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ?
		ORDER BY time_sent ASC, message_id ASC`, chatID)
}

// MaxInboundTimestamp returns the pull watermark for userID. ok is false when
// nothing has been received yet, meaning the next pull starts from zero.
func (db *DB) MaxInboundTimestamp(userID string) (ts int64, ok bool, err error) {
	var latest sql.NullInt64
	err = db.QueryRow(`SELECT MAX(time_sent) FROM messages WHERE inbound = 1 AND recipient_id = ?`, userID).Scan(&latest)
	if err != nil {
		return 0, false, err
	}
	return latest.Int64, latest.Valid, nil
}

// LatestChatSummaries returns the most recent message of every chat userID
// takes part in, newest chat first. Peer metadata missing on that row is
// backfilled per field from the newest row of the same chat that has it.
func (db *DB) LatestChatSummaries(userID string) ([]Message, error) {
	return db.queryMessages(`
		SELECT m.message_id, m.chat_id, m.sender_id, m.recipient_id, m.body, m.time_sent,
			m.outbound, m.inbound, m.synced, m.failed, m.last_error, m.attempts,
			COALESCE(NULLIF(m.peer_uid, ''), (SELECT p.peer_uid FROM messages p
				WHERE p.chat_id = m.chat_id AND NULLIF(p.peer_uid, '') IS NOT NULL
				ORDER BY p.time_sent DESC LIMIT 1), ''),
			COALESCE(NULLIF(m.peer_name, ''), (SELECT p.peer_name FROM messages p
				WHERE p.chat_id = m.chat_id AND NULLIF(p.peer_name, '') IS NOT NULL
				ORDER BY p.time_sent DESC LIMIT 1), ''),
			COALESCE(NULLIF(m.peer_username, ''), (SELECT p.peer_username FROM messages p
				WHERE p.chat_id = m.chat_id AND NULLIF(p.peer_username, '') IS NOT NULL
				ORDER BY p.time_sent DESC LIMIT 1), ''),
			COALESCE(NULLIF(m.peer_avatar, ''), (SELECT p.peer_avatar FROM messages p
				WHERE p.chat_id = m.chat_id AND NULLIF(p.peer_avatar, '') IS NOT NULL
				ORDER BY p.time_sent DESC LIMIT 1), '')
		FROM messages m
		WHERE (m.sender_id = ? OR m.recipient_id = ?)
			AND m.message_id = (SELECT l.message_id FROM messages l
				WHERE l.chat_id = m.chat_id
				ORDER BY l.time_sent DESC, l.message_id DESC LIMIT 1)
		ORDER BY m.time_sent DESC, m.chat_id ASC`, userID, userID)
}

// RecordAttempt bumps the send attempt counter of a message.
func (db *DB) RecordAttempt(messageID string) error {
	res, err := db.Exec(`UPDATE messages SET attempts = attempts + 1, updated_at = ? WHERE message_id = ?`,
		db.now().UnixMilli(), messageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSynced records the server acknowledgement of an outbound message. It
// touches only delivery columns, so peer metadata written while the send was
// in flight is kept.
func (db *DB) MarkSynced(messageID string, timeSent int64, body string) error {
	var chatID string
	err := db.QueryRow(`
		UPDATE messages SET synced = 1, failed = 0, last_error = '',
			time_sent = ?, body = ?, updated_at = ?
		WHERE message_id = ?
		RETURNING chat_id`, timeSent, body, db.now().UnixMilli(), messageID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	db.notify(chatID)
	return nil
}

// MarkFailed moves an unsynced message to the terminal failed state.
func (db *DB) MarkFailed(messageID, reason string) error {
	var chatID string
	err := db.QueryRow(`
		UPDATE messages SET failed = 1, last_error = ?, updated_at = ?
		WHERE message_id = ? AND synced = 0
		RETURNING chat_id`, reason, db.now().UnixMilli(), messageID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	db.notify(chatID)
	return nil
}

// ResetFailed puts a failed message back into the pending queue.
func (db *DB) ResetFailed(messageID string) error {
	var chatID string
	err := db.QueryRow(`
		UPDATE messages SET failed = 0, last_error = '', updated_at = ?
		WHERE message_id = ? AND failed = 1 AND synced = 0
		RETURNING chat_id`, db.now().UnixMilli(), messageID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	db.notify(chatID)
	return nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// PendingCount returns how many messages wait in the send queue.
func (db *DB) PendingCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE outbound = 1 AND synced = 0 AND failed = 0`).Scan(&count)
	return count, err
}

// FailedCount returns how many messages failed permanently.
func (db *DB) FailedCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE failed = 1`).Scan(&count)
	return count, err
}
