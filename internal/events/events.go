// Package events fans session lifecycle events out to interested listeners:
// the student's own WebSocket connections and the proctor monitor channel.
package events

import (
	"context"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Sink receives session events. Emit must not block the caller for long:
// it runs on the session's hot path.
type Sink interface {
	Emit(ctx context.Context, ev model.SessionEvent)
}

// Multi forwards every event to each of its sinks in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev model.SessionEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, model.SessionEvent) {}
