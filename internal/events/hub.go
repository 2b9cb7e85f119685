package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

const subscriberBuffer = 32

type hubKey struct {
	examID    uuid.UUID
	studentID int
}

type subscriber struct {
	ch chan model.SessionEvent
}

// Hub is an in-process fan-out keyed by (exam, student). A student may hold
// several connections (a reload races the old socket's close), each gets a copy.
type Hub struct {
	mu   sync.RWMutex
	subs map[hubKey]map[*subscriber]struct{}
	log  zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[hubKey]map[*subscriber]struct{}),
		log:  log.With().Str("component", "event_hub").Logger(),
	}
}

// Subscribe returns a channel of events for one student's attempt and a
// cancel func that unregisters and closes it.
func (h *Hub) Subscribe(examID uuid.UUID, studentID int) (<-chan model.SessionEvent, func()) {
	key := hubKey{examID: examID, studentID: studentID}
	sub := &subscriber{ch: make(chan model.SessionEvent, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], sub)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Emit delivers ev to every subscriber of its (exam, student). A slow
// subscriber loses the event rather than stalling the session.
func (h *Hub) Emit(_ context.Context, ev model.SessionEvent) {
	key := hubKey{examID: ev.ExamID, studentID: ev.StudentID}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[key] {
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn().
				Str("exam_id", ev.ExamID.String()).
				Int("student_id", ev.StudentID).
				Str("event", string(ev.Type)).
				Msg("Subscriber buffer full, event dropped")
		}
	}
}

// Subscribers returns the number of listeners for one attempt.
func (h *Hub) Subscribers(examID uuid.UUID, studentID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[hubKey{examID: examID, studentID: studentID}])
}
