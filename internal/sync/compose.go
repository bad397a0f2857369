package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
)

// ErrEmptyBody is returned by Compose for blank messages.
var ErrEmptyBody = errors.New("message body is empty")

// Compose records a new outbound message as pending. It is visible to live
// queries immediately and sent by the next cycle.
func (e *Engine) Compose(_ context.Context, fromID, toID, body string) (*store.Message, error) {
	if body == "" {
		return nil, ErrEmptyBody
	}
	if fromID == "" || toID == "" {
		return nil, errors.New("sender and recipient are required")
	}

	msg := store.Message{
		MessageID:   uuid.NewString(),
		ChatID:      ChatID(fromID, toID),
		SenderID:    fromID,
		RecipientID: toID,
		Body:        body,
		TimeSent:    e.now().UnixMilli(),
		Outbound:    true,
		PeerUID:     toID,
	}
	peer, err := e.db.GetPeer(toID)
	if err != nil {
		return nil, fmt.Errorf("read peer %q: %w", toID, err)
	}
	if peer != nil {
		msg.PeerName = peer.Name
		msg.PeerUsername = peer.Username
		msg.PeerAvatar = peer.Avatar
	}

	if err := e.db.UpsertMessage(&msg); err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}
	e.publish(bus.KindMessageQueued, msg.MessageID)
	return &msg, nil
}

// RetryFailed returns a permanently failed message to the pending queue.
func (e *Engine) RetryFailed(messageID string) error {
	if err := e.db.ResetFailed(messageID); err != nil {
		return fmt.Errorf("retry %q: %w", messageID, err)
	}
	e.publish(bus.KindMessageQueued, messageID)
	return nil
}
