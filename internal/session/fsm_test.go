package session

import (
	"errors"
	"testing"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		want State
	}{
		{StateNoSession, EventFound, StateResumable},
		{StateNoSession, EventNotFound, StateFreshStart},
		{StateFreshStart, EventStart, StateActive},
		{StateResumable, EventContinue, StateActive},
		{StateResumable, EventRestart, StateAbandoned},
		{StateActive, EventRestart, StateAbandoned},
		{StateActive, EventSubmit, StateSubmitting},
		{StateSubmitting, EventGraded, StateSubmitted},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"/"+string(tc.ev), func(t *testing.T) {
			got, err := Next(tc.from, tc.ev)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestNextRejectsIllegalTransitions(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
	}{
		{StateNoSession, EventSubmit},
		{StateFreshStart, EventContinue},
		{StateResumable, EventSubmit},
		{StateActive, EventContinue},
		{StateSubmitting, EventSubmit},
		{StateSubmitting, EventRestart},
		{StateSubmitted, EventSubmit},
		{StateSubmitted, EventRestart},
		{StateAbandoned, EventContinue},
		{StateAbandoned, EventSubmit},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"/"+string(tc.ev), func(t *testing.T) {
			got, err := Next(tc.from, tc.ev)
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("err = %v, want ErrIllegalTransition", err)
			}
			if got != tc.from {
				t.Fatalf("state moved to %s on illegal event", got)
			}
		})
	}
}

func TestMachineFire(t *testing.T) {
	m := NewMachine(StateNoSession)
	for _, ev := range []Event{EventNotFound, EventStart, EventSubmit, EventGraded} {
		if _, err := m.Fire(ev); err != nil {
			t.Fatalf("Fire(%s): %v", ev, err)
		}
	}
	if m.State() != StateSubmitted || !m.State().Terminal() {
		t.Fatalf("state = %s, want terminal SUBMITTED", m.State())
	}
	if _, err := m.Fire(EventSubmit); err == nil {
		t.Fatal("submitted machine accepted another submit")
	}
}
