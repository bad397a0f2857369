package sync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Remote is the part of the chat service the engine needs.
type Remote interface {
	Send(ctx context.Context, fromID, toID, body, clientKey string) (*remote.Message, error)
	Since(ctx context.Context, userID string, sinceMs int64) ([]remote.Message, error)
}

// Outcome is the result signal of one cycle.
type Outcome int

const (
	Success Outcome = iota
	RetryLater
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryLater:
		return "retry_later"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Report summarizes one cycle.
type Report struct {
	UserID  string
	Outcome Outcome
	Pushed  int // messages acknowledged by the server
	Failed  int // messages marked permanently failed
	Pulled  int // inbound messages stored
	Since   int64
	Reason  string // why the cycle did not succeed, if it did not
}

// Engine runs push-then-pull synchronization cycles against the local store.
type Engine struct {
	db     *store.DB
	remote Remote
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	// mu serializes cycles so the engine is the only sync writer at a time.
	mu sync.Mutex
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, r Remote, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		remote: r,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// RunCycle pushes every pending message, then pulls new inbound messages for
// userID. The pull never starts before the push phase has finished.
//
// A non-nil error means a storage fault or cancellation; nothing beyond the
// batches already committed is marked synced.
func (e *Engine) RunCycle(ctx context.Context, userID string) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := Report{UserID: userID}
	e.publish(bus.KindCycleStarted, userID)
	e.logger.Debug("sync cycle started", zap.String("user", userID))

	err := e.push(ctx, userID, &rep)
	if err == nil && rep.Outcome != RetryLater {
		err = e.pull(ctx, userID, &rep)
	}
	if err == nil && rep.Outcome == Success && rep.Failed > 0 {
		rep.Outcome = PermanentFailure
		rep.Reason = strconv.Itoa(rep.Failed) + " message(s) rejected by server"
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			rep.Outcome = RetryLater
			rep.Reason = "cancelled"
		} else {
			rep.Outcome = PermanentFailure
			rep.Reason = err.Error()
		}
	}

	e.checkpoint(&rep)
	e.publish(bus.KindCycleFinished, rep)
	e.logger.Info("sync cycle finished",
		zap.String("user", userID),
		zap.Stringer("outcome", rep.Outcome),
		zap.Int("pushed", rep.Pushed),
		zap.Int("failed", rep.Failed),
		zap.Int("pulled", rep.Pulled),
		zap.String("reason", rep.Reason),
	)
	return rep, err
}

func (e *Engine) checkpoint(rep *Report) {
	if err := e.db.SetState(store.StateLastOutcome, rep.Outcome.String()); err != nil {
		e.logger.Warn("failed to record cycle outcome", zap.Error(err))
	}
	if err := e.db.SetState(store.StateLastCycleAt, strconv.FormatInt(e.now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to record cycle time", zap.Error(err))
	}
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: e.now(), Payload: payload})
}
