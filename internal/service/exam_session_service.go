package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/events"
	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/metrics"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/session"
	"github.com/stemsi/exstem-engine/internal/shuffle"
)

// Session lifecycle errors.
var (
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrExamNotAvailable     = errors.New("exam is not available at this time")
	ErrNoActiveSession      = errors.New("no active session")
	ErrUnknownQuestion      = errors.New("question does not belong to this exam")
	ErrInvalidSubmitReason  = errors.New("unknown submit reason")
)

const (
	mirrorTimeout  = 2 * time.Second
	persistTimeout = 10 * time.Second
)

// Persistence is the durable store of sessions and graded results.
type Persistence interface {
	// LoadActiveSession returns nil, nil when the student has no session in progress.
	LoadActiveSession(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	CreateSession(ctx context.Context, s *model.ExamSession) error
	UpdateSessionSnapshot(ctx context.Context, u model.SnapshotUpdate) error
	// MarkStatus closes an in-progress session. Closed sessions are left untouched.
	MarkStatus(ctx context.Context, sessionID uuid.UUID, status model.SessionStatus, isRanked bool) error
	// DemoteSession clears the ranking flag of a session still in progress.
	DemoteSession(ctx context.Context, sessionID uuid.UUID) error
	CountPastSessions(ctx context.Context, examID uuid.UUID, studentID int) (model.SessionCounts, error)
	// SaveGradedResult stores res and closes the session. It is idempotent on the session id.
	SaveGradedResult(ctx context.Context, s model.ExamSession, res *model.GradedResult) error
}

// ResultReader serves the graded history of a student.
type ResultReader interface {
	ListResults(ctx context.Context, examID uuid.UUID, studentID int) ([]model.GradedResult, error)
	GetSubmission(ctx context.Context, examID uuid.UUID, studentID int) (*model.Submission, error)
}

// AnswerMirror is the durable local copy of the answers of an attempt.
type AnswerMirror interface {
	Read(ctx context.Context, examID uuid.UUID, studentID int) (model.AnswerState, bool, error)
	Write(ctx context.Context, examID uuid.UUID, studentID int, state model.AnswerState) error
	Clear(ctx context.Context, examID uuid.UUID, studentID int) error
}

// ExamCatalog serves exam definitions and answer keys.
type ExamCatalog interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	GetAnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error)
}

// PolicyResolver returns the configured anti-cheat policy of an exam.
type PolicyResolver interface {
	For(examID uuid.UUID) model.Policy
}

// JobQueue hands background work to the workers.
type JobQueue interface {
	Enqueue(ctx context.Context, queue string, job any) error
}

// Syncer runs the periodic snapshot push of a live session. The returned
// func stops it and waits for the loop to exit.
type Syncer interface {
	Start(l *session.Live) (stop func())
}

// Prompt describes a resumable session so the student can choose between
// continuing it and starting over.
type Prompt struct {
	SessionID        uuid.UUID `json:"session_id"`
	SessionNumber    int       `json:"session_number"`
	IsRanked         bool      `json:"is_ranked"`
	AnsweredCount    int       `json:"answered_count"`
	TabSwitchCount   int       `json:"tab_switch_count"`
	RemainingSeconds int       `json:"remaining_seconds"`
	StartedAt        time.Time `json:"started_at"`
}

// Attempt is what the student sees after begin, continue or restart.
type Attempt struct {
	State            session.State         `json:"state"`
	Exam             *model.ExamDefinition `json:"exam"`
	Session          *model.ExamSession    `json:"session,omitempty"`
	Prompt           *Prompt               `json:"prompt,omitempty"`
	Paper            []model.QuestionRef   `json:"paper,omitempty"`
	Answers          *model.AnswerState    `json:"answers,omitempty"`
	RemainingSeconds int                   `json:"remaining_seconds"`
	Result           *model.GradedResult   `json:"result,omitempty"`
}

// ViolationReport is the outcome of a recorded violation, with the graded
// result when it forced the submission.
type ViolationReport struct {
	session.ViolationOutcome
	Result *model.GradedResult `json:"result,omitempty"`
}

// History lists the graded attempts of a student and the best one.
type History struct {
	Results []model.GradedResult `json:"results"`
	Best    *model.Submission    `json:"best,omitempty"`
}

// ExamSessionDeps wires an ExamSessionService.
type ExamSessionDeps struct {
	Store    Persistence
	Results  ResultReader
	Mirror   AnswerMirror
	Catalog  ExamCatalog
	Policies PolicyResolver
	Events   events.Sink
	Queue    JobQueue
	Syncer   Syncer
	Grader   *grading.Grader
	// Tick is the countdown granularity. Zero means one second.
	Tick time.Duration
	Log  zerolog.Logger
}

type sessionKey struct {
	examID    uuid.UUID
	studentID int
}

// ExamSessionService owns the lifecycle of exam attempts: it is the only
// writer of session records. Timers, anti-cheat and the sync loop request
// transitions through the live session it holds.
type ExamSessionService struct {
	store    Persistence
	results  ResultReader
	mirror   AnswerMirror
	catalog  ExamCatalog
	policies PolicyResolver
	events   events.Sink
	queue    JobQueue
	syncer   Syncer
	grader   *grading.Grader
	tick     time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu    sync.Mutex
	live  map[sessionKey]*session.Live
	locks keyLocks
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(d ExamSessionDeps) *ExamSessionService {
	if d.Grader == nil {
		d.Grader = grading.New(grading.DefaultRelativeTolerance)
	}
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Tick <= 0 {
		d.Tick = session.DefaultTick
	}
	return &ExamSessionService{
		store:    d.Store,
		results:  d.Results,
		mirror:   d.Mirror,
		catalog:  d.Catalog,
		policies: d.Policies,
		events:   d.Events,
		queue:    d.Queue,
		syncer:   d.Syncer,
		grader:   d.Grader,
		tick:     d.Tick,
		now:      time.Now,
		log:      d.Log.With().Str("component", "exam_session_service").Logger(),
		live:     make(map[sessionKey]*session.Live),
		locks:    keyLocks{m: make(map[sessionKey]*keyLock)},
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// BeginAttempt opens the exam for a student. An in-progress session yields a
// Resumable attempt with a prompt; otherwise a new session is created and started.
func (s *ExamSessionService) BeginAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*Attempt, error) {
	key := sessionKey{examID: examID, studentID: studentID}
	unlock := s.locks.lock(key)
	defer unlock()

	def, err := s.catalog.GetDefinition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !def.IsOpenAt(s.now()) {
		return nil, ErrExamNotAvailable
	}

	if err := s.settle(ctx, key); err != nil {
		return nil, err
	}
	if l := s.lookup(key); l != nil {
		return s.resumable(def, l.Record(), l.Answers()), nil
	}

	active, err := s.store.LoadActiveSession(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	counts, err := s.store.CountPastSessions(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	machine := session.NewMachine(session.StateNoSession)
	if active != nil {
		if _, err := machine.Fire(session.EventFound); err != nil {
			return nil, err
		}
		if def.MaxAttempts > 0 && counts.NonAbandoned > def.MaxAttempts {
			return nil, ErrAttemptLimitExceeded
		}
		answers := s.restoreAnswers(ctx, active)
		attempt := s.resumable(def, *active, answers)
		s.emit(ctx, model.EventSessionResumable, *active, attempt.Prompt)
		return attempt, nil
	}

	if _, err := machine.Fire(session.EventNotFound); err != nil {
		return nil, err
	}
	if def.MaxAttempts > 0 && counts.NonAbandoned >= def.MaxAttempts {
		return nil, ErrAttemptLimitExceeded
	}

	rec := &model.ExamSession{
		ExamID:        examID,
		StudentID:     studentID,
		SessionNumber: counts.Total + 1,
		IsRanked:      counts.Total == 0,
	}
	if err := s.store.CreateSession(ctx, rec); err != nil {
		if !errors.Is(err, repository.ErrActiveSessionExists) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// Another instance created it between our load and insert.
		active, lerr := s.store.LoadActiveSession(ctx, examID, studentID)
		if lerr != nil || active == nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return s.resumable(def, *active, s.restoreAnswers(ctx, active)), nil
	}
	if _, err := machine.Fire(session.EventStart); err != nil {
		return nil, err
	}

	l, err := s.startLive(key, def, *rec, model.AnswerState{}, def.DurationSeconds, machine)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Str("session_id", rec.ID.String()).
		Int("session_number", rec.SessionNumber).
		Bool("is_ranked", rec.IsRanked).
		Msg("Attempt started")
	s.emit(ctx, model.EventAttemptStarted, *rec, nil)

	return s.activeAttempt(l), nil
}

// ContinueSession resumes the in-progress session. Answers come from the local
// mirror when present, otherwise from the last synced snapshot. The deadline is
// anchored to the session start; a session already past it is submitted at once.
// The exam window and attempt limit apply as they do for BeginAttempt.
func (s *ExamSessionService) ContinueSession(ctx context.Context, examID uuid.UUID, studentID int) (*Attempt, error) {
	key := sessionKey{examID: examID, studentID: studentID}
	unlock := s.locks.lock(key)
	defer unlock()

	def, err := s.catalog.GetDefinition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !def.IsOpenAt(s.now()) {
		return nil, ErrExamNotAvailable
	}

	if err := s.settle(ctx, key); err != nil {
		return nil, err
	}
	if l := s.lookup(key); l != nil {
		return s.activeAttempt(l), nil
	}

	active, err := s.store.LoadActiveSession(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if active == nil {
		return nil, ErrNoActiveSession
	}
	if def.MaxAttempts > 0 {
		counts, err := s.store.CountPastSessions(ctx, examID, studentID)
		if err != nil {
			return nil, fmt.Errorf("count sessions: %w", err)
		}
		if counts.NonAbandoned > def.MaxAttempts {
			return nil, ErrAttemptLimitExceeded
		}
	}

	machine := session.NewMachine(session.StateNoSession)
	for _, ev := range []session.Event{session.EventFound, session.EventContinue} {
		if _, err := machine.Fire(ev); err != nil {
			return nil, err
		}
	}

	answers := s.restoreAnswers(ctx, active)
	remaining := s.remainingSeconds(def, active)

	l, err := s.startLive(key, def, *active, answers, remaining, machine)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Str("session_id", active.ID.String()).
		Int("remaining_seconds", remaining).
		Msg("Session resumed")
	s.emit(ctx, model.EventSessionResumed, *active, map[string]int{"remaining_seconds": remaining})

	if remaining <= 0 {
		// The countdown fires immediately; wait for its submission.
		res, err := l.Wait(ctx)
		if err != nil {
			return nil, err
		}
		attempt := s.activeAttempt(l)
		attempt.State = session.StateSubmitted
		attempt.Result = res
		return attempt, nil
	}
	return s.activeAttempt(l), nil
}

// RestartSession abandons the in-progress session and starts a new, unranked one.
func (s *ExamSessionService) RestartSession(ctx context.Context, examID uuid.UUID, studentID int) (*Attempt, error) {
	key := sessionKey{examID: examID, studentID: studentID}
	unlock := s.locks.lock(key)
	defer unlock()

	def, err := s.catalog.GetDefinition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !def.IsOpenAt(s.now()) {
		return nil, ErrExamNotAvailable
	}

	if err := s.settle(ctx, key); err != nil {
		return nil, err
	}

	old, err := s.store.LoadActiveSession(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if old == nil {
		return nil, ErrNoActiveSession
	}

	if l := s.lookup(key); l != nil {
		if err := l.Abandon(); err != nil {
			// A submission won the race; the attempt is over.
			return nil, ErrNoActiveSession
		}
		s.forget(key, l)
	} else {
		machine := session.NewMachine(session.StateNoSession)
		for _, ev := range []session.Event{session.EventFound, session.EventRestart} {
			if _, err := machine.Fire(ev); err != nil {
				return nil, err
			}
		}
	}

	if err := s.store.MarkStatus(ctx, old.ID, model.SessionStatusAbandoned, false); err != nil {
		return nil, fmt.Errorf("abandon session: %w", err)
	}
	s.clearMirror(ctx, examID, studentID)

	counts, err := s.store.CountPastSessions(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if def.MaxAttempts > 0 && counts.NonAbandoned >= def.MaxAttempts {
		return nil, ErrAttemptLimitExceeded
	}

	rec := &model.ExamSession{
		ExamID:        examID,
		StudentID:     studentID,
		SessionNumber: max(old.SessionNumber+1, counts.Total+1),
		IsRanked:      false,
	}
	if err := s.store.CreateSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	machine := session.NewMachine(session.StateFreshStart)
	if _, err := machine.Fire(session.EventStart); err != nil {
		return nil, err
	}
	l, err := s.startLive(key, def, *rec, model.AnswerState{}, def.DurationSeconds, machine)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Str("abandoned_session_id", old.ID.String()).
		Str("session_id", rec.ID.String()).
		Int("session_number", rec.SessionNumber).
		Msg("Session restarted")
	s.emit(ctx, model.EventSessionRestarted, *rec, map[string]string{"abandoned_session_id": old.ID.String()})

	return s.activeAttempt(l), nil
}

// GetState returns the live view of the attempt, or the resume prompt when the
// session is not loaded in this process.
func (s *ExamSessionService) GetState(ctx context.Context, examID uuid.UUID, studentID int) (*Attempt, error) {
	key := sessionKey{examID: examID, studentID: studentID}
	if l := s.lookup(key); l != nil && l.State() == session.StateActive {
		return s.activeAttempt(l), nil
	}

	def, err := s.catalog.GetDefinition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	active, err := s.store.LoadActiveSession(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if active == nil {
		return nil, ErrNoActiveSession
	}
	return s.resumable(def, *active, s.restoreAnswers(ctx, active)), nil
}

// ─── Student actions ────────────────────────────────────────────────

// RecordAnswer applies one answer edit and mirrors the new state locally.
// It returns the number of answered questions.
func (s *ExamSessionService) RecordAnswer(ctx context.Context, examID uuid.UUID, studentID int, in model.AnswerInput) (int, error) {
	l := s.lookup(sessionKey{examID: examID, studentID: studentID})
	if l == nil {
		return 0, ErrNoActiveSession
	}
	if !l.Definition().HasQuestion(in.Ref()) {
		return 0, ErrUnknownQuestion
	}

	answered := 0
	err := l.ApplyAnswer(in, func(state model.AnswerState) {
		answered = state.AnsweredCount()
		if s.mirror == nil {
			return
		}
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := s.mirror.Write(mctx, examID, studentID, state); err != nil {
			s.log.Warn().Err(err).
				Str("exam_id", examID.String()).
				Int("student_id", studentID).
				Msg("Failed to write answer mirror")
		}
	})
	if errors.Is(err, session.ErrSessionClosed) {
		return 0, ErrNoActiveSession
	}
	return answered, err
}

// RecordViolation counts a client-reported violation. Crossing the demotion
// threshold unranks the session; reaching the maximum submits it.
func (s *ExamSessionService) RecordViolation(ctx context.Context, examID uuid.UUID, studentID int, v model.ViolationType) (*ViolationReport, error) {
	l := s.lookup(sessionKey{examID: examID, studentID: studentID})
	if l == nil {
		return nil, ErrNoActiveSession
	}

	out, err := l.RecordViolation(v)
	if errors.Is(err, session.ErrSessionClosed) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, err
	}

	rec := l.Record()
	log := logger.ForSession(s.log, examID, studentID, rec.ID)
	metrics.ViolationsTotal.WithLabelValues(string(v)).Inc()

	s.enqueue(ctx, config.WorkerKey.PersistViolationsQueue, model.ViolationJob{
		SessionID:  rec.ID,
		ExamID:     examID,
		StudentID:  studentID,
		Type:       v,
		Count:      out.Count,
		OccurredAt: s.now(),
	})
	s.emit(ctx, model.EventViolationRecorded, rec, out)

	if out.Demoted {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		err := s.store.DemoteSession(pctx, rec.ID)
		cancel()
		if err != nil {
			// The sync loop and the final save carry the flag too.
			log.Warn().Err(err).Msg("Failed to persist ranking demotion")
		}
		metrics.RankingDemotions.Inc()
		log.Info().Int("violations", out.Count).Msg("Session demoted to unranked")
		s.emit(ctx, model.EventRankingDemoted, rec, out)
	}

	report := &ViolationReport{ViolationOutcome: out}
	if out.ForceSubmit {
		log.Warn().Int("violations", out.Count).Msg("Violation limit reached, forcing submission")
		res, err := s.finish(ctx, l, model.SubmitReasonViolation)
		switch {
		case errors.Is(err, session.ErrSubmitRaceIgnored):
		case err != nil:
			return report, err
		default:
			report.Result = res
		}
	}
	return report, nil
}

// Submit ends the attempt and grades it. A trigger that loses the race to an
// earlier one gets the winner's result.
func (s *ExamSessionService) Submit(ctx context.Context, examID uuid.UUID, studentID int, reason model.SubmitReason) (*model.GradedResult, error) {
	if reason == "" {
		reason = model.SubmitReasonManual
	}
	if !reason.Valid() {
		return nil, ErrInvalidSubmitReason
	}
	l := s.lookup(sessionKey{examID: examID, studentID: studentID})
	if l == nil {
		return nil, ErrNoActiveSession
	}

	res, err := s.finish(ctx, l, reason)
	if errors.Is(err, session.ErrSubmitRaceIgnored) {
		res, err = l.Wait(ctx)
		if errors.Is(err, session.ErrSessionClosed) {
			return nil, ErrNoActiveSession
		}
	}
	return res, err
}

// History returns every graded attempt of the student and the best one.
func (s *ExamSessionService) History(ctx context.Context, examID uuid.UUID, studentID int) (*History, error) {
	if s.results == nil {
		return &History{}, nil
	}
	results, err := s.results.ListResults(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	best, err := s.results.GetSubmission(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if results == nil {
		results = []model.GradedResult{}
	}
	return &History{Results: results, Best: best}, nil
}

// Shutdown pushes a last snapshot of every live session and stops their loops.
// Sessions stay in progress and are resumable after the restart.
func (s *ExamSessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	lives := make([]*session.Live, 0, len(s.live))
	for _, l := range s.live {
		lives = append(lives, l)
	}
	s.mu.Unlock()

	for _, l := range lives {
		l.Stop()
		if snap, ok := l.SyncSnapshot(); ok {
			if err := s.store.UpdateSessionSnapshot(ctx, snap); err != nil {
				s.log.Warn().Err(err).Str("session_id", snap.SessionID.String()).Msg("Final snapshot push failed")
			}
		}
	}
	s.log.Info().Int("sessions", len(lives)).Msg("Live sessions flushed")
}

// LiveCount returns the number of sessions held in memory.
func (s *ExamSessionService) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// ─── Submission ─────────────────────────────────────────────────────

// finish runs the single submission of a live session: freeze, grade, store.
// A grading or storage failure leaves the session in Submitting.
func (s *ExamSessionService) finish(ctx context.Context, l *session.Live, reason model.SubmitReason) (*model.GradedResult, error) {
	final, err := l.BeginSubmit(reason)
	if err != nil {
		if errors.Is(err, session.ErrSubmitRaceIgnored) {
			metrics.SubmitRacesIgnored.Inc()
		}
		return nil, err
	}

	rec := final.Session
	def := l.Definition()
	log := logger.ForSession(s.log, rec.ExamID, rec.StudentID, rec.ID)

	// The student leaving must not abort a submission that already started.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	fail := func(stage string, err error) (*model.GradedResult, error) {
		metrics.GradingFailures.Inc()
		log.Error().Err(err).
			Bool("alert", true).
			Str("stage", stage).
			Str("reason", string(reason)).
			Msg("Submission failed")
		l.FailSubmit(err)
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	key, err := s.catalog.GetAnswerKey(ctx, rec.ExamID)
	if err != nil {
		return fail("load answer key", err)
	}

	res, err := s.grader.Grade(rec.AnswersSnapshot, *key, def.TotalQuestions())
	if err != nil {
		return fail("grade", err)
	}

	now := s.now()
	res.SessionID = rec.ID
	res.TimeSpentSeconds = timeSpent(rec.CreatedAt, now, def.DurationSeconds)
	res.CheatFlags = model.CheatFlags{
		TabSwitches:  rec.TabSwitchCount,
		ForcedSubmit: reason.Forced(),
	}
	res.Reason = reason
	res.IsRanked = rec.IsRanked
	res.GradedAt = now

	if err := s.store.SaveGradedResult(ctx, rec, res); err != nil {
		return fail("save result", err)
	}
	if err := l.CompleteSubmit(res); err != nil {
		return fail("complete", err)
	}

	s.clearMirror(ctx, rec.ExamID, rec.StudentID)
	s.enqueue(ctx, config.WorkerKey.PersistResultsQueue, model.ResultJob{
		SessionID: rec.ID,
		ExamID:    rec.ExamID,
		StudentID: rec.StudentID,
		Score:     res.Score,
		IsRanked:  res.IsRanked,
		GradedAt:  res.GradedAt,
	})

	metrics.SubmissionsTotal.WithLabelValues(string(reason)).Inc()
	log.Info().
		Float64("score", res.DisplayScore()).
		Str("reason", string(reason)).
		Bool("is_ranked", res.IsRanked).
		Int("time_spent_seconds", res.TimeSpentSeconds).
		Msg("Session graded")
	s.emit(ctx, model.EventSubmitted, rec, map[string]any{
		"score":  res.DisplayScore(),
		"reason": reason,
	})

	return res, nil
}

// expire is the countdown callback.
func (s *ExamSessionService) expire(l *session.Live) {
	rec := l.Record()
	s.emit(context.Background(), model.EventCountdownExpired, rec, nil)

	// finish logs its own failures; a lost race needs nothing.
	_, _ = s.finish(context.Background(), l, model.SubmitReasonTimeout)
}

// ─── Live registry ──────────────────────────────────────────────────

func (s *ExamSessionService) startLive(
	key sessionKey,
	def *model.ExamDefinition,
	rec model.ExamSession,
	answers model.AnswerState,
	remaining int,
	machine *session.Machine,
) (*session.Live, error) {
	policy := session.DefaultPolicy()
	if s.policies != nil {
		policy = s.policies.For(def.ID)
	}
	policy = session.ResolvePolicy(def.Policy, policy)

	paper := shuffle.Paper(def, paperSeedID(rec.StudentID))
	l, err := session.NewLive(rec, def, paper, answers, policy, machine)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.live[key] = l
	s.mu.Unlock()
	metrics.LiveSessions.Inc()

	if s.syncer != nil {
		l.OnStop(s.syncer.Start(l))
	}
	l.StartCountdown(remaining, s.tick, func() { s.expire(l) })

	go func() {
		<-l.Done()
		s.forget(key, l)
	}()
	return l, nil
}

// paperSeedID is the student part of the shuffle seed. Changing its format
// reorders every paper, including resumed ones.
func paperSeedID(studentID int) string {
	return strconv.Itoa(studentID)
}

func (s *ExamSessionService) lookup(key sessionKey) *session.Live {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[key]
}

func (s *ExamSessionService) forget(key sessionKey, l *session.Live) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[key] == l {
		delete(s.live, key)
		metrics.LiveSessions.Dec()
	}
}

// settle waits for a live session that is mid-submission to reach its outcome,
// so a second runtime is never built for the same record.
func (s *ExamSessionService) settle(ctx context.Context, key sessionKey) error {
	l := s.lookup(key)
	if l == nil || l.State() == session.StateActive {
		return nil
	}
	select {
	case <-l.Done():
		s.forget(key, l)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Helpers ────────────────────────────────────────────────────────

func (s *ExamSessionService) activeAttempt(l *session.Live) *Attempt {
	rec := l.Record()
	answers := rec.AnswersSnapshot
	rec.AnswersSnapshot = model.AnswerState{}
	return &Attempt{
		State:            l.State(),
		Exam:             l.Definition(),
		Session:          &rec,
		Paper:            l.Paper(),
		Answers:          &answers,
		RemainingSeconds: l.Remaining(),
	}
}

func (s *ExamSessionService) resumable(def *model.ExamDefinition, rec model.ExamSession, answers model.AnswerState) *Attempt {
	remaining := s.remainingSeconds(def, &rec)
	return &Attempt{
		State: session.StateResumable,
		Exam:  def,
		Prompt: &Prompt{
			SessionID:        rec.ID,
			SessionNumber:    rec.SessionNumber,
			IsRanked:         rec.IsRanked,
			AnsweredCount:    answers.AnsweredCount(),
			TabSwitchCount:   rec.TabSwitchCount,
			RemainingSeconds: remaining,
			StartedAt:        rec.CreatedAt,
		},
		RemainingSeconds: remaining,
	}
}

func (s *ExamSessionService) remainingSeconds(def *model.ExamDefinition, rec *model.ExamSession) int {
	left := rec.Deadline(def.Duration()).Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func (s *ExamSessionService) restoreAnswers(ctx context.Context, rec *model.ExamSession) model.AnswerState {
	if s.mirror != nil {
		state, ok, err := s.mirror.Read(ctx, rec.ExamID, rec.StudentID)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", rec.ID.String()).Msg("Answer mirror unreadable, using snapshot")
		} else if ok {
			return state
		}
	}
	return rec.AnswersSnapshot
}

func (s *ExamSessionService) clearMirror(ctx context.Context, examID uuid.UUID, studentID int) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Clear(ctx, examID, studentID); err != nil {
		s.log.Warn().Err(err).
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Msg("Failed to clear answer mirror")
	}
}

func (s *ExamSessionService) enqueue(ctx context.Context, queue string, job any) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), queue, job); err != nil {
		s.log.Warn().Err(err).Str("queue", queue).Msg("Failed to enqueue job")
	}
}

func (s *ExamSessionService) emit(ctx context.Context, typ model.SessionEventType, rec model.ExamSession, data any) {
	s.events.Emit(ctx, model.SessionEvent{
		Type:      typ,
		ExamID:    rec.ExamID,
		StudentID: rec.StudentID,
		SessionID: rec.ID,
		At:        s.now(),
		Data:      data,
	})
}

// timeSpent is the wall time since start, capped at the exam duration.
func timeSpent(start, end time.Time, durationSeconds int) int {
	spent := int(end.Sub(start).Seconds())
	if spent < 0 {
		return 0
	}
	if durationSeconds > 0 && spent > durationSeconds {
		return durationSeconds
	}
	return spent
}

// keyLocks serializes lifecycle operations per (exam, student).
type keyLocks struct {
	mu sync.Mutex
	m  map[sessionKey]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyLocks) lock(key sessionKey) (unlock func()) {
	k.mu.Lock()
	kl, ok := k.m[key]
	if !ok {
		kl = &keyLock{}
		k.m[key] = kl
	}
	kl.refs++
	k.mu.Unlock()

	kl.Lock()
	return func() {
		kl.Unlock()
		k.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
