// Package scheduler runs named background jobs on a periodic interval and on
// demand. Each name has a single worker, so at most one run of a job is in
// flight and triggers that arrive meanwhile collapse into one follow-up run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Result is what a job reports back after one run.
type Result int

const (
	// Done: nothing more to do until the next trigger.
	Done Result = iota
	// Retry: run again after an exponential backoff delay.
	Retry
	// Fail: give up until the next trigger.
	Fail
)

func (r Result) String() string {
	switch r {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Job is one unit of background work.
type Job func(ctx context.Context) Result

// ErrUnknownJob is returned for names that were never registered.
var ErrUnknownJob = errors.New("unknown job")

var (
	errRetry = errors.New("job asked to retry")
	errFail  = errors.New("job failed")
)

// Policy controls retry delays and constraint polling.
type Policy struct {
	Base           time.Duration
	Multiplier     float64
	Max            time.Duration
	ConstraintPoll time.Duration
}

// DefaultPolicy matches the daemon defaults.
func DefaultPolicy() Policy {
	return Policy{
		Base:           30 * time.Second,
		Multiplier:     2,
		Max:            30 * time.Minute,
		ConstraintPoll: 10 * time.Second,
	}
}

// Hooks observe a job's progress. Any of them may be nil.
type Hooks struct {
	OnStart   func(name string)
	OnWaiting func(name string)
	OnRetry   func(name string, attempt int, delay time.Duration)
	OnFinish  func(name string, result Result)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConstraint sets a condition that must hold before a job runs, such as
// network connectivity. While it does not hold the run waits, polling it.
func WithConstraint(fn func(ctx context.Context) bool) Option {
	return func(s *Scheduler) { s.constraint = fn }
}

// WithPrecondition sets a condition checked right before each run. When it
// does not hold the run is skipped and counts as Done.
func WithPrecondition(fn func(ctx context.Context) bool) Option {
	return func(s *Scheduler) { s.precondition = fn }
}

// WithHooks installs progress callbacks.
func WithHooks(h Hooks) Option {
	return func(s *Scheduler) { s.hooks = h }
}

// Scheduler owns one worker goroutine per registered job name.
type Scheduler struct {
	policy       Policy
	constraint   func(ctx context.Context) bool
	precondition func(ctx context.Context) bool
	hooks        Hooks
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*worker
}

// New creates a scheduler. Workers start as jobs are registered.
func New(policy Policy, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultPolicy()
	if policy.Base <= 0 {
		policy.Base = def.Base
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = def.Multiplier
	}
	if policy.Max < policy.Base {
		policy.Max = policy.Base
	}
	if policy.ConstraintPoll <= 0 {
		policy.ConstraintPoll = def.ConstraintPoll
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		policy:  policy,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job under name. Registering a name twice replaces nothing
// and returns an error.
func (s *Scheduler) Register(name string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return errors.New("scheduler stopped")
	}
	if _, ok := s.workers[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	w := &worker{
		name:    name,
		job:     job,
		trigger: make(chan struct{}, 1),
		reset:   make(chan struct{}, 1),
	}
	s.workers[name] = w
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(w)
	}()
	return nil
}

// SchedulePeriodic runs name every interval, replacing any previous
// interval. A non-positive interval cancels periodic runs.
func (s *Scheduler) SchedulePeriodic(name string, interval time.Duration) error {
	w, err := s.worker(name)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.interval = interval
	w.mu.Unlock()
	notify(w.reset)
	s.logger.Info("periodic job scheduled", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// Trigger requests a one-shot run of name. It never blocks; a trigger that
// arrives while a run is pending or in flight is merged into it, and one that
// arrives during a backoff wait retries right away.
func (s *Scheduler) Trigger(name string) error {
	w, err := s.worker(name)
	if err != nil {
		return err
	}
	notify(w.trigger)
	return nil
}

// Stop cancels in-flight runs and waits for every worker to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) worker(name string) (*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return w, nil
}

type worker struct {
	name    string
	job     Job
	trigger chan struct{}
	reset   chan struct{}

	mu       sync.Mutex
	interval time.Duration
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(w *worker) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-w.reset:
			if ticker != nil {
				ticker.Stop()
				ticker, tick = nil, nil
			}
			w.mu.Lock()
			interval := w.interval
			w.mu.Unlock()
			if interval > 0 {
				ticker = time.NewTicker(interval)
				tick = ticker.C
			}
		case <-tick:
			s.run(w)
		case <-w.trigger:
			s.run(w)
		}
	}
}

func (s *Scheduler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.Base
	b.Multiplier = s.policy.Multiplier
	b.MaxInterval = s.policy.Max
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, s.ctx)
}

// run executes one triggered run of w, including its retries.
func (s *Scheduler) run(w *worker) {
	log := s.logger.With(zap.String("job", w.name))
	if s.hooks.OnStart != nil {
		s.hooks.OnStart(w.name)
	}

	attempt := 0
	op := func() error {
		attempt++
		if !s.waitConstraint(w.name) {
			return backoff.Permanent(s.ctx.Err())
		}
		if s.precondition != nil && !s.precondition(s.ctx) {
			log.Debug("precondition not met, skipping run")
			return nil
		}
		switch w.job(s.ctx) {
		case Retry:
			return errRetry
		case Fail:
			return backoff.Permanent(errFail)
		default:
			return nil
		}
	}
	onRetry := func(_ error, delay time.Duration) {
		log.Info("job retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		if s.hooks.OnRetry != nil {
			s.hooks.OnRetry(w.name, attempt, delay)
		}
	}

	timer := &triggerTimer{trigger: w.trigger}
	err := backoff.RetryNotifyWithTimer(op, s.newBackOff(), onRetry, timer)
	result := Done
	switch {
	case err == nil:
	case errors.Is(err, errFail):
		result = Fail
		log.Warn("job failed", zap.Int("attempt", attempt))
	default:
		// Cancelled while waiting or retrying.
		result = Retry
		log.Info("job interrupted", zap.Error(err))
	}
	if s.hooks.OnFinish != nil {
		s.hooks.OnFinish(w.name, result)
	}
}

// triggerTimer is the backoff timer of a run. Besides expiring normally it
// fires when the job is triggered, so an on-demand request ends a backoff
// wait early instead of queueing behind it. The delay sequence is not reset.
type triggerTimer struct {
	trigger <-chan struct{}

	timer *time.Timer
	c     chan time.Time
	stop  chan struct{}
}

func (t *triggerTimer) Start(d time.Duration) {
	t.Stop()
	t.timer = time.NewTimer(d)
	t.c = make(chan time.Time, 1)
	t.stop = make(chan struct{})
	go func(timer *time.Timer, c chan<- time.Time, stop <-chan struct{}) {
		select {
		case now := <-timer.C:
			c <- now
		case <-t.trigger:
			c <- time.Now()
		case <-stop:
		}
	}(t.timer, t.c, t.stop)
}

func (t *triggerTimer) Stop() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
	close(t.stop)
	t.timer = nil
}

func (t *triggerTimer) C() <-chan time.Time {
	return t.c
}

// waitConstraint blocks until the constraint holds. It reports false if the
// scheduler stopped first.
func (s *Scheduler) waitConstraint(name string) bool {
	if s.constraint == nil {
		return true
	}
	waiting := false
	for !s.constraint(s.ctx) {
		if !waiting {
			waiting = true
			s.logger.Info("job waiting for constraint", zap.String("job", name))
			if s.hooks.OnWaiting != nil {
				s.hooks.OnWaiting(name)
			}
		}
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(s.policy.ConstraintPoll):
		}
	}
	return s.ctx.Err() == nil
}
