package live

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
)

func testDB(t *testing.T, b *bus.Bus) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithBus(b))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func recv(t *testing.T, ch <-chan []store.Message) []store.Message {
	t.Helper()
	select {
	case msgs, ok := <-ch:
		if !ok {
			t.Fatal("live query closed")
		}
		return msgs
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for live query emission")
	}
	return nil
}

func pending(id string, ts int64) store.Message {
	return store.Message{
		MessageID: id, ChatID: "u1_u2", SenderID: "u1", RecipientID: "u2",
		Body: id, TimeSent: ts, Outbound: true,
	}
}

func TestObserveChatEmitsInitialAndUpdates(t *testing.T) {
	b := bus.New()
	db := testDB(t, b)
	h := NewHub(db, b, nil)

	m := pending("c1", 100)
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := h.ObserveChat(ctx, "u1_u2")
	if err != nil {
		t.Fatal(err)
	}

	if got := recv(t, ch); len(got) != 1 {
		t.Fatalf("initial emission has %d messages, want 1", len(got))
	}

	m2 := pending("c2", 200)
	if err := db.UpsertMessage(&m2); err != nil {
		t.Fatal(err)
	}
	got := recv(t, ch)
	if len(got) != 2 || got[1].MessageID != "c2" {
		t.Fatalf("after insert got %+v, want [c1 c2]", got)
	}
}

func TestObserveChatIgnoresOtherChats(t *testing.T) {
	b := bus.New()
	db := testDB(t, b)
	h := NewHub(db, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := h.ObserveChat(ctx, "u1_u2")
	if err != nil {
		t.Fatal(err)
	}
	if got := recv(t, ch); len(got) != 0 {
		t.Fatalf("initial emission has %d messages, want 0", len(got))
	}

	other := store.Message{MessageID: "x", ChatID: "u1_u3", SenderID: "u1", RecipientID: "u3", TimeSent: 1, Outbound: true}
	if err := db.UpsertMessage(&other); err != nil {
		t.Fatal(err)
	}
	select {
	case msgs := <-ch:
		t.Errorf("unexpected emission: %+v", msgs)
	case <-time.After(100 * time.Millisecond):
	}
}

// Bursts may be coalesced, but the last emission always reflects the last write.
func TestObserveChatCoalescesBursts(t *testing.T) {
	b := bus.New()
	db := testDB(t, b)
	h := NewHub(db, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := h.ObserveChat(ctx, "u1_u2")
	if err != nil {
		t.Fatal(err)
	}
	recv(t, ch)

	for i := int64(1); i <= 20; i++ {
		m := pending("c"+string(rune('a'+i)), i)
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-ch:
			if len(msgs) == 20 {
				return
			}
		case <-deadline:
			t.Fatal("never observed all 20 messages")
		}
	}
}

func TestObserveChatClosesOnCancel(t *testing.T) {
	b := bus.New()
	db := testDB(t, b)
	h := NewHub(db, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.ObserveChat(ctx, "u1_u2")
	if err != nil {
		t.Fatal(err)
	}
	recv(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// A snapshot may race the cancellation; the next receive must close.
			if _, ok := <-ch; ok {
				t.Fatal("channel still open after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
