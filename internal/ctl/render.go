package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timeLayout)
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderStatus(w io.Writer, st *api.Status) {
	user := st.User
	if user == "" {
		user = "(signed out)"
	}
	last := "never"
	if st.LastCycleAt > 0 {
		last = fmt.Sprintf("%s at %s", st.LastOutcome, formatTime(st.LastCycleAt))
	}
	fmt.Fprintf(w, "%-12s %s\n", "Session:", st.Session)
	fmt.Fprintf(w, "%-12s %s\n", "State:", st.State)
	fmt.Fprintf(w, "%-12s %s\n", "User:", user)
	fmt.Fprintf(w, "%-12s %d\n", "Messages:", st.Messages)
	fmt.Fprintf(w, "%-12s %d\n", "Pending:", st.Pending)
	fmt.Fprintf(w, "%-12s %d\n", "Failed:", st.Failed)
	fmt.Fprintf(w, "%-12s %s\n", "Last cycle:", last)
}

// peerLabel names the other side of a chat as well as the cache allows.
func peerLabel(m api.Message) string {
	switch {
	case m.PeerName != "":
		return m.PeerName
	case m.PeerUsername != "":
		return "@" + m.PeerUsername
	case m.PeerUID != "":
		return m.PeerUID
	case m.Outbound:
		return m.To
	default:
		return m.From
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func renderChats(w io.Writer, chats []api.Message) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats.")
		return
	}
	fmt.Fprintf(w, "%-12s %-14s %-9s %-19s %s\n", "CHAT", "PEER", "STATE", "TIME", "LAST MESSAGE")
	for _, c := range chats {
		body := truncate(c.Body, 40)
		if c.Outbound {
			body = "you: " + body
		}
		fmt.Fprintf(w, "%-12s %-14s %-9s %-19s %s\n",
			c.ChatID, truncate(peerLabel(c), 14), c.State(), formatTime(c.TimeSent), body)
	}
}

func renderMessage(w io.Writer, m api.Message) {
	fmt.Fprintf(w, "[%s] %s: %s (%s)\n", formatTime(m.TimeSent), m.From, m.Body, m.State())
	if m.Failed && m.LastError != "" {
		fmt.Fprintf(w, "    error: %s (retry with: chatsyncctl retry %s)\n", m.LastError, m.ID)
	}
}

// watchPrinter prints each message of successive chat snapshots once, and
// again whenever its delivery state changes.
type watchPrinter struct {
	w    io.Writer
	seen map[string]string
}

func newWatchPrinter(w io.Writer) *watchPrinter {
	return &watchPrinter{w: w, seen: make(map[string]string)}
}

func (p *watchPrinter) snapshot(msgs []api.Message) error {
	for _, m := range msgs {
		state := m.State()
		if p.seen[m.ID] == state {
			continue
		}
		p.seen[m.ID] = state
		renderMessage(p.w, m)
	}
	return nil
}
