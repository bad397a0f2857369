package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// pull fetches messages at or after the inbound watermark and stores those
// addressed to userID as one batch. The boundary message is fetched again on
// every pull; the upsert makes that harmless.
func (e *Engine) pull(ctx context.Context, userID string, rep *Report) error {
	since, ok, err := e.db.MaxInboundTimestamp(userID)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	if !ok {
		since = 0
	}
	rep.Since = since

	msgs, err := e.remote.Since(ctx, userID, since)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		fault := remote.Classify(err)
		if fault.Retryable() || fault == remote.FaultNone {
			rep.Outcome = RetryLater
		} else {
			rep.Outcome = PermanentFailure
		}
		rep.Reason = err.Error()
		e.logger.Warn("pull failed", zap.Stringer("fault", fault), zap.Int64("since", since), zap.Error(err))
		return nil
	}

	batch := make([]store.Message, 0, len(msgs))
	peers := make(map[string]*store.Peer)
	for _, m := range msgs {
		// The feed may echo our own sends; only messages to us are inbound.
		if m.ToUID != userID {
			continue
		}
		peer, seen := peers[m.FromUID]
		if !seen {
			if peer, err = e.db.GetPeer(m.FromUID); err != nil {
				return fmt.Errorf("read peer %q: %w", m.FromUID, err)
			}
			peers[m.FromUID] = peer
		}
		batch = append(batch, hydrate(m, peer))
	}

	if err := e.db.UpsertMessages(batch); err != nil {
		return fmt.Errorf("store pulled messages: %w", err)
	}
	if err := e.db.SetState(store.StateLastPullFrom, strconv.FormatInt(since, 10)); err != nil {
		e.logger.Warn("failed to record pull checkpoint", zap.Error(err))
	}
	rep.Pulled = len(batch)
	return nil
}

func hydrate(m remote.Message, peer *store.Peer) store.Message {
	id := m.ID
	if id == "" {
		id = fallbackMessageID(m.FromUID, m.ToUID, m.CreatedAt)
	}
	msg := store.Message{
		MessageID:   id,
		ChatID:      ChatID(m.FromUID, m.ToUID),
		SenderID:    m.FromUID,
		RecipientID: m.ToUID,
		Body:        m.Body,
		TimeSent:    m.CreatedAt,
		Inbound:     true,
		Outbound:    false,
		Synced:      true,
		PeerUID:     m.FromUID,
	}
	if peer != nil {
		msg.PeerName = peer.Name
		msg.PeerUsername = peer.Username
		msg.PeerAvatar = peer.Avatar
	}
	return msg
}
