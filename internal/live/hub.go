// Package live turns store writes into push-based views for readers such as a UI.
package live

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Hub serves live queries over the local store.
type Hub struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewHub creates a hub. db must have been opened with store.WithBus(b).
func NewHub(db *store.DB, b *bus.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{db: db, bus: b, logger: logger}
}

// ObserveChat emits the full ordered message list of chatID now and again after
// every committed write to that chat. The channel is closed when ctx ends or a
// re-query fails; calling ObserveChat again restarts the view.
func (h *Hub) ObserveChat(ctx context.Context, chatID string) (<-chan []store.Message, error) {
	// A one-slot buffer coalesces bursts without losing the last change: if a
	// notification is dropped, one is still queued and its re-query runs after
	// the dropped write committed.
	changes, unsub := h.bus.SubscribeExact(bus.ChatChanged(chatID), 1)

	first, err := h.db.ListChatMessages(chatID)
	if err != nil {
		unsub()
		return nil, err
	}

	out := make(chan []store.Message)
	go func() {
		defer close(out)
		defer unsub()

		snapshot := first
		for {
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}

			select {
			case <-changes:
			case <-ctx.Done():
				return
			}
			msgs, err := h.db.ListChatMessages(chatID)
			if err != nil {
				h.logger.Error("live query failed", zap.String("chat_id", chatID), zap.Error(err))
				return
			}
			snapshot = msgs
		}
	}()
	return out, nil
}
