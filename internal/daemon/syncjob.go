package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/scheduler"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// SyncJob is the single scheduler name for both periodic and on-demand syncs,
// so at most one cycle runs at a time.
const SyncJob = "message-sync"

type syncJob struct {
	db      *store.DB
	engine  *intsync.Engine
	machine *status.Machine
	logger  *zap.Logger
}

func (j *syncJob) signedIn(context.Context) bool {
	uid, err := j.db.CurrentUser()
	if err != nil {
		j.logger.Error("read current user", zap.Error(err))
		return false
	}
	return uid != ""
}

func (j *syncJob) run(ctx context.Context) scheduler.Result {
	uid, err := j.db.CurrentUser()
	if err != nil {
		j.logger.Error("read current user", zap.Error(err))
		return scheduler.Retry
	}
	if uid == "" {
		return scheduler.Done
	}

	j.transition(status.Syncing)
	rep, err := j.engine.RunCycle(ctx, uid)
	if err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Error("sync cycle aborted", zap.Error(err))
	}

	switch rep.Outcome {
	case intsync.RetryLater:
		j.transition(status.BackingOff)
		return scheduler.Retry
	case intsync.PermanentFailure:
		j.transition(status.Idle)
		return scheduler.Fail
	default:
		j.transition(status.Idle)
		return scheduler.Done
	}
}

// transition applies a best-effort state change. It never leaves SignedOut,
// so a sign-out during a cycle keeps the daemon signed out.
func (j *syncJob) transition(to status.State) {
	if err := j.machine.Advance(to); err != nil {
		j.logger.Debug("state transition skipped", zap.Error(err))
	}
}
