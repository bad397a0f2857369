package bus

import "time"

// Event kinds published by the sync daemon.
const (
	KindStatusChanged = "sync.status_changed"
	KindCycleStarted  = "sync.cycle_started"
	KindCycleFinished = "sync.cycle_finished"
	KindMessageSent   = "message.sent"
	KindMessageFailed = "message.failed"
	KindMessageQueued = "message.queued"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ChatChanged returns the topic published whenever rows of chatID are written.
// It is meant for exact subscriptions; chat ids may contain any character, so
// prefix matching on it is unreliable.
func ChatChanged(chatID string) string {
	return "chat.changed:" + chatID
}
