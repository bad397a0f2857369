package api

import (
	"github.com/matheus3301/chatsync/internal/store"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status is the daemon's answer to GetStatus.
type Status struct {
	Session     string `json:"session"`
	State       string `json:"state"`
	User        string `json:"user"`
	Pending     int64  `json:"pending"`
	Failed      int64  `json:"failed"`
	Messages    int64  `json:"messages"`
	LastOutcome string `json:"last_outcome"`
	LastCycleAt int64  `json:"last_cycle_at"`
}

// Message is a stored message as seen over the control plane.
type Message struct {
	ID           string `json:"message_id"`
	ChatID       string `json:"chat_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	Body         string `json:"body"`
	TimeSent     int64  `json:"time_sent"`
	Outbound     bool   `json:"outbound"`
	Synced       bool   `json:"synced"`
	Failed       bool   `json:"failed"`
	LastError    string `json:"last_error,omitempty"`
	Attempts     int64  `json:"attempts"`
	PeerUID      string `json:"peer_uid,omitempty"`
	PeerName     string `json:"peer_name,omitempty"`
	PeerUsername string `json:"peer_username,omitempty"`
	PeerAvatar   string `json:"peer_avatar,omitempty"`
}

// State renders the delivery state of a message.
func (m Message) State() string {
	switch {
	case m.Failed:
		return "failed"
	case !m.Synced:
		return "pending"
	case m.Outbound:
		return "sent"
	default:
		return "received"
	}
}

func messageFields(m *store.Message) map[string]any {
	return map[string]any{
		"message_id":    m.MessageID,
		"chat_id":       m.ChatID,
		"from":          m.SenderID,
		"to":            m.RecipientID,
		"body":          m.Body,
		"time_sent":     m.TimeSent,
		"outbound":      m.Outbound,
		"synced":        m.Synced,
		"failed":        m.Failed,
		"last_error":    m.LastError,
		"attempts":      m.Attempts,
		"peer_uid":      m.PeerUID,
		"peer_name":     m.PeerName,
		"peer_username": m.PeerUsername,
		"peer_avatar":   m.PeerAvatar,
	}
}

func messageList(msgs []store.Message) []any {
	out := make([]any, 0, len(msgs))
	for i := range msgs {
		out = append(out, messageFields(&msgs[i]))
	}
	return out
}

func messageFromMap(f map[string]any) Message {
	return Message{
		ID:           str(f, "message_id"),
		ChatID:       str(f, "chat_id"),
		From:         str(f, "from"),
		To:           str(f, "to"),
		Body:         str(f, "body"),
		TimeSent:     num(f, "time_sent"),
		Outbound:     flag(f, "outbound"),
		Synced:       flag(f, "synced"),
		Failed:       flag(f, "failed"),
		LastError:    str(f, "last_error"),
		Attempts:     num(f, "attempts"),
		PeerUID:      str(f, "peer_uid"),
		PeerName:     str(f, "peer_name"),
		PeerUsername: str(f, "peer_username"),
		PeerAvatar:   str(f, "peer_avatar"),
	}
}

func listField(s *structpb.Struct, key string) []any {
	list, _ := s.AsMap()[key].([]any)
	return list
}

func messagesFromList(list []any) []Message {
	out := make([]Message, 0, len(list))
	for _, v := range list {
		if f, ok := v.(map[string]any); ok {
			out = append(out, messageFromMap(f))
		}
	}
	return out
}

func str(f map[string]any, key string) string {
	v, _ := f[key].(string)
	return v
}

// num reads a number; structpb carries every number as a float64.
func num(f map[string]any, key string) int64 {
	v, _ := f[key].(float64)
	return int64(v)
}

func flag(f map[string]any, key string) bool {
	v, _ := f[key].(bool)
	return v
}
