package store

import "errors"

// ErrNotFound is returned by mutations addressed to a message that does not exist
// or is not in a state the mutation applies to.
var ErrNotFound = errors.New("message not found")

// Message is one persisted chat message, keyed by MessageID.
//
// For locally composed messages MessageID is the client-generated id, which is
// also the idempotency key sent to the server.
type Message struct {
	MessageID   string
	ChatID      string
	SenderID    string
	RecipientID string
	Body        string
	TimeSent    int64 // unix ms; server-assigned once synced
	Outbound    bool
	Inbound     bool
	Synced      bool
	Failed      bool // terminal send failure; excluded from the pending queue
	LastError   string
	Attempts    int

	// Peer metadata is best-effort and locally owned; empty means unknown.
	PeerUID      string
	PeerName     string
	PeerUsername string
	PeerAvatar   string
}

// Pending reports whether the message still waits in the send queue.
func (m *Message) Pending() bool {
	return m.Outbound && !m.Synced && !m.Failed
}

// Peer is cached profile metadata for a remote participant.
type Peer struct {
	UID      string
	Name     string
	Username string
	Avatar   string
}
