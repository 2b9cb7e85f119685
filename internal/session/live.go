package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ErrSessionClosed is returned for mutations after the session left Active.
var ErrSessionClosed = errors.New("session is no longer active")

// Live is the in-memory owner of one active session. The service layer is the
// only writer of the persisted record; timer and anti-cheat only request
// transitions through Live.
type Live struct {
	mu      sync.Mutex
	record  model.ExamSession
	def     *model.ExamDefinition
	paper   []model.QuestionRef
	answers model.AnswerState
	version uint64

	machine   *Machine
	guard     SubmitGuard
	tracker   *ViolationTracker
	countdown *Countdown

	stoppers []func()
	stopOnce sync.Once

	done   chan struct{}
	result *model.GradedResult
	err    error
}

// NewLive wraps record in a live session. machine must already be Active.
func NewLive(record model.ExamSession, def *model.ExamDefinition, paper []model.QuestionRef, answers model.AnswerState, policy model.Policy, machine *Machine) (*Live, error) {
	if machine.State() != StateActive {
		return nil, ErrIllegalTransition
	}
	record.AnswersSnapshot = model.AnswerState{}
	return &Live{
		record:  record,
		def:     def,
		paper:   paper,
		answers: answers.Clone(),
		machine: machine,
		tracker: NewViolationTracker(policy, record.TabSwitchCount, record.IsRanked),
		done:    make(chan struct{}),
	}, nil
}

// SessionID returns the id of the underlying session.
func (l *Live) SessionID() uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record.ID
}

// Definition returns the exam definition.
func (l *Live) Definition() *model.ExamDefinition {
	return l.def
}

// Paper returns the shuffled question order of the student.
func (l *Live) Paper() []model.QuestionRef {
	return l.paper
}

// State returns the lifecycle state.
func (l *Live) State() State {
	return l.machine.State()
}

// Record returns a copy of the session with the current answers and counters.
func (l *Live) Record() model.ExamSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.record
	rec.AnswersSnapshot = l.answers.Clone()
	return rec
}

// Answers returns a copy of the current answers.
func (l *Live) Answers() model.AnswerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.answers.Clone()
}

// StartCountdown arms the countdown. Call once, right after NewLive.
func (l *Live) StartCountdown(seconds int, tick time.Duration, onExpire func()) {
	c := StartCountdown(seconds, tick, onExpire)
	l.mu.Lock()
	l.countdown = c
	l.mu.Unlock()
}

// Remaining returns the seconds left on the countdown.
func (l *Live) Remaining() int {
	l.mu.Lock()
	c := l.countdown
	l.mu.Unlock()
	if c == nil {
		return l.def.DurationSeconds
	}
	return c.Remaining()
}

// OnStop registers fn to run on the first terminal transition, typically the
// sync loop's stop.
func (l *Live) OnStop(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stoppers = append(l.stoppers, fn)
}

// ApplyAnswer mutates the answers and hands the new state to mirror while
// still holding the lock, so mirror writes are ordered like the edits.
func (l *Live) ApplyAnswer(in model.AnswerInput, mirror func(model.AnswerState)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.machine.State() != StateActive || l.guard.Fired() {
		return ErrSessionClosed
	}
	if err := l.answers.Apply(in); err != nil {
		return err
	}
	l.version++
	l.record.LastActiveAt = time.Now()

	if mirror != nil {
		mirror(l.answers.Clone())
	}
	return nil
}

// RecordViolation counts a violation and demotes the session when the policy says so.
func (l *Live) RecordViolation(v model.ViolationType) (ViolationOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.machine.State() != StateActive || l.guard.Fired() {
		return ViolationOutcome{}, ErrSessionClosed
	}

	out := l.tracker.Record(v)
	l.version++
	l.record.TabSwitchCount = out.Count
	l.record.LastActiveAt = time.Now()
	if out.Demoted {
		l.record.Demote()
	}
	return out, nil
}

// SyncSnapshot returns the state to push to storage. ok is false once the
// session has left Active.
func (l *Live) SyncSnapshot() (snap model.SnapshotUpdate, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.machine.State() != StateActive || l.guard.Fired() {
		return model.SnapshotUpdate{}, false
	}
	return model.SnapshotUpdate{
		SessionID:      l.record.ID,
		Answers:        l.answers.Clone(),
		TabSwitchCount: l.record.TabSwitchCount,
		LastActiveAt:   l.record.LastActiveAt,
		Version:        l.version,
	}, true
}

// Final is the frozen state handed to grading.
type Final struct {
	Session model.ExamSession
	Reason  model.SubmitReason
}

// BeginSubmit moves Active to Submitting exactly once. Every later trigger
// gets ErrSubmitRaceIgnored. Timers and sync are stopped before it returns.
func (l *Live) BeginSubmit(reason model.SubmitReason) (*Final, error) {
	if !l.guard.TryAcquire() {
		return nil, ErrSubmitRaceIgnored
	}

	l.mu.Lock()
	if _, err := l.machine.Fire(EventSubmit); err != nil {
		l.mu.Unlock()
		return nil, ErrSessionClosed
	}
	rec := l.record
	rec.AnswersSnapshot = l.answers.Clone()
	l.mu.Unlock()

	l.stop()
	return &Final{Session: rec, Reason: reason}, nil
}

// CompleteSubmit records the graded result and moves to Submitted.
func (l *Live) CompleteSubmit(res *model.GradedResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.machine.Fire(EventGraded); err != nil {
		return err
	}
	l.record.Status = model.SessionStatusSubmitted
	l.result = res
	close(l.done)
	return nil
}

// FailSubmit records a fatal submission failure. The session stays in
// Submitting: no second grading attempt runs on this instance.
func (l *Live) FailSubmit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return
	default:
	}
	l.err = err
	close(l.done)
}

// Abandon moves the session to Abandoned. It competes for the same guard as
// submission, so a restart and a timer expiry cannot both win.
func (l *Live) Abandon() error {
	if !l.guard.TryAcquire() {
		return ErrSubmitRaceIgnored
	}

	l.mu.Lock()
	if _, err := l.machine.Fire(EventRestart); err != nil {
		l.mu.Unlock()
		return err
	}
	l.record.Status = model.SessionStatusAbandoned
	l.record.Demote()
	l.err = ErrSessionClosed
	close(l.done)
	l.mu.Unlock()

	l.stop()
	return nil
}

// Wait blocks until the session reached a terminal outcome and returns it.
func (l *Live) Wait(ctx context.Context) (*model.GradedResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result, l.err
}

// Done is closed on the terminal outcome.
func (l *Live) Done() <-chan struct{} {
	return l.done
}

// Stop halts the countdown and every registered stopper. Safe to call more than once.
func (l *Live) Stop() {
	l.stop()
}

func (l *Live) stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		c := l.countdown
		stoppers := l.stoppers
		l.mu.Unlock()

		if c != nil {
			c.Stop()
		}
		for _, fn := range stoppers {
			fn()
		}
	})
}
