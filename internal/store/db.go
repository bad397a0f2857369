package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection backing the local message cache.
// It is the single source of truth the UI reads from.
type DB struct {
	*sql.DB
	bus *bus.Bus
	now func() time.Time
}

// Option configures a DB at open time.
type Option func(*DB)

// WithBus makes every committed write publish bus.ChatChanged for the chats it touched.
func WithBus(b *bus.Bus) Option {
	return func(db *DB) { db.bus = b }
}

// WithClock overrides the clock used for updated_at bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{DB: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// notify publishes a change event per distinct chat id. Called only after commit.
func (db *DB) notify(chatIDs ...string) {
	if db.bus == nil {
		return
	}
	seen := make(map[string]struct{}, len(chatIDs))
	now := db.now()
	for _, id := range chatIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		db.bus.Publish(bus.Event{Kind: bus.ChatChanged(id), Timestamp: now, Payload: id})
	}
}
