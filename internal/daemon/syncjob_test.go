package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/scheduler"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// signOutRemote signs the user out while the pull is in flight.
type signOutRemote struct {
	db      *store.DB
	machine *status.Machine
	t       *testing.T
}

func (r *signOutRemote) Send(context.Context, string, string, string, string) (*remote.Message, error) {
	r.t.Error("unexpected send")
	return nil, &remote.Error{Message: "unexpected"}
}

func (r *signOutRemote) Since(context.Context, string, int64) ([]remote.Message, error) {
	if err := r.db.DeleteState(store.StateCurrentUser); err != nil {
		r.t.Error(err)
	}
	if err := r.machine.Transition(status.SignedOut); err != nil {
		r.t.Error(err)
	}
	return nil, nil
}

func TestSignOutDuringCycleStaysSignedOut(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState(store.StateCurrentUser, "U1"); err != nil {
		t.Fatal(err)
	}

	machine := status.NewMachine(nil)
	if err := machine.Transition(status.Idle); err != nil {
		t.Fatal(err)
	}
	r := &signOutRemote{db: db, machine: machine, t: t}
	job := &syncJob{
		db:      db,
		engine:  intsync.NewEngine(db, r, nil, nil),
		machine: machine,
		logger:  zap.NewNop(),
	}

	if got := job.run(context.Background()); got != scheduler.Done {
		t.Errorf("run = %s, want done", got)
	}
	if got := machine.Current(); got != status.SignedOut {
		t.Errorf("state = %s, want SIGNED_OUT", got)
	}
}
