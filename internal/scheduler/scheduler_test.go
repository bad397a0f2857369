package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{Base: 5 * time.Millisecond, Multiplier: 2, Max: 20 * time.Millisecond, ConstraintPoll: 5 * time.Millisecond}
}

type recorder struct {
	mu       sync.Mutex
	finished []Result
	retries  []time.Duration
	waiting  int
	done     chan Result
}

func newRecorder() *recorder {
	return &recorder{done: make(chan Result, 16)}
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnWaiting: func(string) {
			r.mu.Lock()
			r.waiting++
			r.mu.Unlock()
		},
		OnRetry: func(_ string, _ int, d time.Duration) {
			r.mu.Lock()
			r.retries = append(r.retries, d)
			r.mu.Unlock()
		},
		OnFinish: func(_ string, res Result) {
			r.mu.Lock()
			r.finished = append(r.finished, res)
			r.mu.Unlock()
			r.done <- res
		},
	}
}

func (r *recorder) wait(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r.done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for job to finish")
		return Fail
	}
}

func TestTriggerRunsJob(t *testing.T) {
	rec := newRecorder()
	s := New(fastPolicy(), nil, WithHooks(rec.hooks()))
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Register("sync", func(context.Context) Result {
		runs.Add(1)
		return Done
	}))
	require.NoError(t, s.Trigger("sync"))

	assert.Equal(t, Done, rec.wait(t))
	assert.Equal(t, int32(1), runs.Load())
}

func TestUnknownJob(t *testing.T) {
	s := New(fastPolicy(), nil)
	defer s.Stop()

	assert.ErrorIs(t, s.Trigger("nope"), ErrUnknownJob)
	assert.ErrorIs(t, s.SchedulePeriodic("nope", time.Second), ErrUnknownJob)
}

func TestRegisterTwice(t *testing.T) {
	s := New(fastPolicy(), nil)
	defer s.Stop()

	job := func(context.Context) Result { return Done }
	require.NoError(t, s.Register("sync", job))
	assert.Error(t, s.Register("sync", job))
}

func TestTriggersCoalesceWhileRunning(t *testing.T) {
	rec := newRecorder()
	s := New(fastPolicy(), nil, WithHooks(rec.hooks()))
	defer s.Stop()

	release := make(chan struct{})
	started := make(chan struct{}, 16)
	var runs, inFlight, maxInFlight atomic.Int32
	require.NoError(t, s.Register("sync", func(context.Context) Result {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		runs.Add(1)
		started <- struct{}{}
		<-release
		inFlight.Add(-1)
		return Done
	}))

	require.NoError(t, s.Trigger("sync"))
	<-started
	for range 5 {
		require.NoError(t, s.Trigger("sync"))
	}
	close(release)

	rec.wait(t)
	rec.wait(t)
	select {
	case <-rec.done:
		t.Fatal("triggers issued during a run should collapse into one follow-up run")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestPeriodicRunsAndReplaces(t *testing.T) {
	rec := newRecorder()
	s := New(fastPolicy(), nil, WithHooks(rec.hooks()))
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Register("sync", func(context.Context) Result {
		runs.Add(1)
		return Done
	}))
	require.NoError(t, s.SchedulePeriodic("sync", 10*time.Millisecond))

	for range 3 {
		rec.wait(t)
	}

	// A new request replaces the interval rather than adding a second ticker.
	require.NoError(t, s.SchedulePeriodic("sync", time.Hour))
	time.Sleep(30 * time.Millisecond)
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())
}

func TestRetryUsesExponentialBackoff(t *testing.T) {
	rec := newRecorder()
	s := New(fastPolicy(), nil, WithHooks(rec.hooks()))
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Register("sync", func(context.Context) Result {
		if runs.Add(1) < 4 {
			return Retry
		}
		return Done
	}))
	require.NoError(t, s.Trigger("sync"))

	assert.Equal(t, Done, rec.wait(t))
	assert.Equal(t, int32(4), runs.Load())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}, rec.retries)
}

func TestTriggerEndsBackoffWait(t *testing.T) {
	rec := newRecorder()
	policy := fastPolicy()
	policy.Base, policy.Max = time.Hour, time.Hour
	retrying := make(chan struct{}, 1)
	hooks := rec.hooks()
	hooks.OnRetry = func(string, int, time.Duration) { retrying <- struct{}{} }
	s := New(policy, nil, WithHooks(hooks))
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Register("sync", func(context.Context) Result {
		if runs.Add(1) == 1 {
			return Retry
		}
		return Done
	}))

	require.NoError(t, s.Trigger("sync"))
	select {
	case <-retrying:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first retry")
	}
	require.NoError(t, s.Trigger("sync"))

	assert.Equal(t, Done, rec.wait(t))
	assert.Equal(t, int32(2), runs.Load())
}

func TestFailIsNotRetried(t *testing.T) {
	rec := newRecorder()
	s := New(fastPolicy(), nil, WithHooks(rec.hooks()))
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Register("sync", func(context.Context) Result {
		runs.Add(1)
		return Fail
	}))
	require.NoError(t, s.Trigger("sync"))

	assert.Equal(t, Fail, rec.wait(t))
	assert.Equal(t, int32(1), runs.Load())
}

func TestPreconditionSkipsRun(t *testing.T) {
	rec := newRecorder()
	s := New(fastPolicy(), nil,
		WithHooks(rec.hooks()),
		WithPrecondition(func(context.Context) bool { return false }),
	)
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Register("sync", func(context.Context) Result {
		runs.Add(1)
		return Fail
	}))
	require.NoError(t, s.Trigger("sync"))

	assert.Equal(t, Done, rec.wait(t))
	assert.Zero(t, runs.Load())
}

func TestConstraintDefersRun(t *testing.T) {
	rec := newRecorder()
	var online atomic.Bool
	s := New(fastPolicy(), nil,
		WithHooks(rec.hooks()),
		WithConstraint(func(context.Context) bool { return online.Load() }),
	)
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Register("sync", func(context.Context) Result {
		runs.Add(1)
		return Done
	}))
	require.NoError(t, s.Trigger("sync"))

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runs.Load())

	online.Store(true)
	assert.Equal(t, Done, rec.wait(t))
	assert.Equal(t, int32(1), runs.Load())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.waiting)
}

func TestStopCancelsRunningJob(t *testing.T) {
	rec := newRecorder()
	s := New(fastPolicy(), nil, WithHooks(rec.hooks()))

	started := make(chan struct{})
	require.NoError(t, s.Register("sync", func(ctx context.Context) Result {
		close(started)
		<-ctx.Done()
		return Retry
	}))
	require.NoError(t, s.Trigger("sync"))
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, Retry, rec.wait(t))
	assert.Error(t, s.Register("other", func(context.Context) Result { return Done }))
}
