// Package session holds the per-attempt state of a live exam session: the
// lifecycle state machine, the submit guard, the countdown, the anti-cheat
// counter and the answer book. Nothing in here does I/O; the service layer
// drives it and talks to storage.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is a lifecycle state of an attempt.
type State string

const (
	StateNoSession  State = "NO_SESSION"
	StateResumable  State = "RESUMABLE"
	StateFreshStart State = "FRESH_START"
	StateActive     State = "ACTIVE"
	StateSubmitting State = "SUBMITTING"
	StateSubmitted  State = "SUBMITTED"
	StateAbandoned  State = "ABANDONED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateAbandoned
}

// Event drives a transition.
type Event string

const (
	EventFound    Event = "found"
	EventNotFound Event = "not_found"
	EventStart    Event = "start"
	EventContinue Event = "continue"
	EventRestart  Event = "restart"
	EventSubmit   Event = "submit"
	EventGraded   Event = "graded"
)

// ErrIllegalTransition is returned for an event the current state does not accept.
var ErrIllegalTransition = errors.New("illegal session transition")

var transitions = map[State]map[Event]State{
	StateNoSession: {
		EventFound:    StateResumable,
		EventNotFound: StateFreshStart,
	},
	StateFreshStart: {
		EventStart: StateActive,
	},
	StateResumable: {
		EventContinue: StateActive,
		EventRestart:  StateAbandoned,
	},
	StateActive: {
		EventSubmit:  StateSubmitting,
		EventRestart: StateAbandoned,
	},
	StateSubmitting: {
		EventGraded: StateSubmitted,
	},
}

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, e, s)
}

// Machine is a concurrency-safe holder of a State.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in the given state.
func NewMachine(initial State) *Machine {
	return &Machine{state: initial}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies e and returns the new state.
func (m *Machine) Fire(e Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, err := Next(m.state, e)
	if err != nil {
		return m.state, err
	}
	m.state = to
	return to, nil
}
