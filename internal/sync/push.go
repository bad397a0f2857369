package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// push sends pending messages oldest first, one at a time.
//
// A retryable fault stops the phase and leaves the rest of the queue untouched
// for the next cycle. A client fault marks only that message failed and moves
// on, so one rejected message cannot block the queue.
func (e *Engine) push(ctx context.Context, userID string, rep *Report) error {
	pending, err := e.db.PendingOutbound()
	if err != nil {
		return fmt.Errorf("read pending: %w", err)
	}

	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := e.logger.With(zap.String("message_id", msg.MessageID), zap.String("chat_id", msg.ChatID))

		if msg.SenderID != userID {
			// Queued under another account; it is sent when that account syncs.
			continue
		}
		if err := e.db.RecordAttempt(msg.MessageID); err != nil {
			return fmt.Errorf("record attempt %q: %w", msg.MessageID, err)
		}

		ack, err := e.remote.Send(ctx, msg.SenderID, msg.RecipientID, msg.Body, msg.MessageID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			fault := remote.Classify(err)
			if fault.Retryable() || fault == remote.FaultNone {
				log.Warn("send failed, retrying later", zap.Stringer("fault", fault), zap.Error(err), zap.Int("attempt", msg.Attempts+1))
				rep.Outcome = RetryLater
				rep.Reason = err.Error()
				return nil
			}

			log.Error("send rejected", zap.Error(err), zap.Int("attempt", msg.Attempts+1))
			if err := e.db.MarkFailed(msg.MessageID, err.Error()); err != nil {
				return fmt.Errorf("mark failed %q: %w", msg.MessageID, err)
			}
			rep.Failed++
			e.publish(bus.KindMessageFailed, msg.MessageID)
			continue
		}

		timeSent, body := ackFields(msg, ack)
		if err := e.db.MarkSynced(msg.MessageID, timeSent, body); err != nil {
			return fmt.Errorf("store ack %q: %w", msg.MessageID, err)
		}
		rep.Pushed++
		log.Info("message sent", zap.Int64("time_sent", timeSent))
		e.publish(bus.KindMessageSent, msg.MessageID)
	}
	return nil
}

// ackFields returns the server's view of a sent message: its createdAt becomes
// timeSent and its echoed body wins. Everything else on the row is local.
func ackFields(local store.Message, ack *remote.Message) (timeSent int64, body string) {
	timeSent, body = local.TimeSent, local.Body
	if ack.CreatedAt > 0 {
		timeSent = ack.CreatedAt
	}
	if ack.Body != "" {
		body = ack.Body
	}
	return timeSent, body
}
