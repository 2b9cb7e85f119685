package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/session"
)

type flakyStore struct {
	mu      sync.Mutex
	fail    bool
	calls   int
	pushes  []model.SnapshotUpdate
}

func (s *flakyStore) UpdateSessionSnapshot(ctx context.Context, u model.SnapshotUpdate) error {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("db down")
	}
	s.mu.Lock()
	s.pushes = append(s.pushes, u)
	s.mu.Unlock()
	return nil
}

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *flakyStore) snapshot() (calls int, pushes []model.SnapshotUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]model.SnapshotUpdate(nil), s.pushes...)
}

type sinkRecorder struct {
	mu  sync.Mutex
	got []model.SessionEventType
}

func (r *sinkRecorder) Emit(_ context.Context, ev model.SessionEvent) {
	r.mu.Lock()
	r.got = append(r.got, ev.Type)
	r.mu.Unlock()
}

func (r *sinkRecorder) count(t model.SessionEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, g := range r.got {
		if g == t {
			n++
		}
	}
	return n
}

func newLive(t *testing.T) *session.Live {
	t.Helper()
	def := &model.ExamDefinition{
		ID:              uuid.New(),
		DurationSeconds: 600,
		MCQuestions:     []model.QuestionSlot{{Index: 0}, {Index: 1}},
	}
	rec := model.ExamSession{
		ID:            uuid.New(),
		ExamID:        def.ID,
		StudentID:     3,
		SessionNumber: 1,
		IsRanked:      true,
		Status:        model.SessionStatusInProgress,
		CreatedAt:     time.Now(),
	}
	m := session.NewMachine(session.StateNoSession)
	for _, e := range []session.Event{session.EventNotFound, session.EventStart} {
		if _, err := m.Fire(e); err != nil {
			t.Fatal(err)
		}
	}
	l, err := session.NewLive(rec, def, nil, model.AnswerState{}, session.DefaultPolicy(), m)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func answer(t *testing.T, l *session.Live, index int, choice string) {
	t.Helper()
	in := model.AnswerInput{Kind: model.QuestionKindMC, Index: index, Choice: &choice}
	if err := l.ApplyAnswer(in, nil); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSyncWorkerPushesLatestState(t *testing.T) {
	store := &flakyStore{}
	w := NewSyncWorker(store, 5*time.Millisecond, 20*time.Millisecond, nil, zerolog.Nop())
	l := newLive(t)

	stop := w.Start(l)
	defer stop()

	answer(t, l, 0, "A")
	answer(t, l, 1, "C")

	eventually(t, "snapshot with both answers", func() bool {
		_, pushes := store.snapshot()
		return len(pushes) > 0 && pushes[len(pushes)-1].Answers.AnsweredCount() == 2
	})
}

func TestSyncWorkerSkipsUnchangedState(t *testing.T) {
	store := &flakyStore{}
	w := NewSyncWorker(store, 2*time.Millisecond, 10*time.Millisecond, nil, zerolog.Nop())
	l := newLive(t)

	stop := w.Start(l)
	answer(t, l, 0, "B")
	eventually(t, "first push", func() bool {
		_, pushes := store.snapshot()
		return len(pushes) == 1
	})
	time.Sleep(30 * time.Millisecond)
	stop()

	if _, pushes := store.snapshot(); len(pushes) != 1 {
		t.Fatalf("pushes = %d, want 1 for an unchanged session", len(pushes))
	}
}

func TestSyncWorkerRetriesAfterFailure(t *testing.T) {
	store := &flakyStore{fail: true}
	sink := &sinkRecorder{}
	w := NewSyncWorker(store, 2*time.Millisecond, 8*time.Millisecond, sink, zerolog.Nop())
	l := newLive(t)

	stop := w.Start(l)
	defer stop()
	answer(t, l, 0, "A")

	eventually(t, "failed pushes", func() bool {
		calls, _ := store.snapshot()
		return calls >= 2
	})
	if sink.count(model.EventSyncFailed) == 0 {
		t.Fatal("sync_failed not emitted")
	}

	// Later edits are included once storage recovers.
	answer(t, l, 1, "D")
	store.setFail(false)

	eventually(t, "recovered push", func() bool {
		_, pushes := store.snapshot()
		return len(pushes) > 0 && pushes[len(pushes)-1].Answers.AnsweredCount() == 2
	})
}

func TestSyncWorkerStopsOnSubmit(t *testing.T) {
	store := &flakyStore{}
	w := NewSyncWorker(store, 2*time.Millisecond, 10*time.Millisecond, nil, zerolog.Nop())
	l := newLive(t)
	l.OnStop(w.Start(l))

	answer(t, l, 0, "A")
	if _, err := l.BeginSubmit(model.SubmitReasonManual); err != nil {
		t.Fatalf("BeginSubmit: %v", err)
	}

	// BeginSubmit returned after the loop exited: nothing may be pushed now.
	calls, _ := store.snapshot()
	time.Sleep(20 * time.Millisecond)
	if after, _ := store.snapshot(); after != calls {
		t.Fatalf("push after submit: %d -> %d", calls, after)
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 60 * time.Second},
		{10, 60 * time.Second},
	}
	for _, c := range cases {
		if got := backoff(10*time.Second, 60*time.Second, c.failures); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.failures, got, c.want)
		}
	}
}
