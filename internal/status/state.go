package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the daemon's sync runtime state.
type State string

const (
	SignedOut  State = "SIGNED_OUT"
	Idle       State = "IDLE"
	Syncing    State = "SYNCING"
	BackingOff State = "BACKING_OFF"
	Offline    State = "OFFLINE"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	SignedOut:  {Idle},
	Idle:       {Syncing, Offline, SignedOut},
	Syncing:    {Idle, BackingOff, Offline, SignedOut},
	BackingOff: {Syncing, Offline, Idle, SignedOut},
	Offline:    {Syncing, Idle, BackingOff, SignedOut},
}

// Machine tracks and enforces sync runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in SignedOut state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: SignedOut,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// ErrSignedOut is returned by Advance while no user is signed in.
var ErrSignedOut = errors.New("signed out")

// Transition attempts to move to a new state. Moving to the current state is
// a no-op and publishes nothing. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(to)
}

// Advance is Transition for background work. It never leaves SignedOut,
// which only a sign-in may do, so a cycle finishing after a sign-out cannot
// bring the daemon back to Idle.
func (m *Machine) Advance(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == SignedOut && to != SignedOut {
		return ErrSignedOut
	}
	return m.transition(to)
}

func (m *Machine) transition(to State) error {
	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: m.since,
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
