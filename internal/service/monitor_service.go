package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

// RosterStore reads what proctors see of an exam.
type RosterStore interface {
	ListInProgress(ctx context.Context, examID uuid.UUID) ([]model.RosterEntry, error)
	CountSubmitted(ctx context.Context, examID uuid.UUID) (int, error)
	GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int64, error)
}

// MonitorService builds the proctor roster of an exam.
type MonitorService struct {
	store RosterStore
	log   zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(store RosterStore, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		store: store,
		log:   log.With().Str("component", "monitor_service").Logger(),
	}
}

// GetRoster fetches sessions, submissions and violation counts in parallel.
// Sessions are required; the two counters are best-effort.
func (s *MonitorService) GetRoster(ctx context.Context, examID uuid.UUID) (*model.Roster, error) {
	var (
		sessions   []model.RosterEntry
		submitted  int
		violations map[int]int64

		sessionsErr, submittedErr, violationsErr error
		wg                                       sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		sessions, sessionsErr = s.store.ListInProgress(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		submitted, submittedErr = s.store.CountSubmitted(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		violations, violationsErr = s.store.GetViolationCounts(ctx, examID)
	}()
	wg.Wait()

	if sessionsErr != nil {
		return nil, fmt.Errorf("list sessions: %w", sessionsErr)
	}

	roster := &model.Roster{
		Sessions:        sessions,
		ViolationCounts: map[int]int64{},
	}
	if roster.Sessions == nil {
		roster.Sessions = []model.RosterEntry{}
	}
	if submittedErr != nil {
		s.log.Warn().Err(submittedErr).Str("exam_id", examID.String()).Msg("Submitted count unavailable")
	} else {
		roster.Submitted = submitted
	}
	if violationsErr != nil {
		s.log.Warn().Err(violationsErr).Str("exam_id", examID.String()).Msg("Violation counts unavailable")
	} else if violations != nil {
		roster.ViolationCounts = violations
		for _, n := range violations {
			roster.TotalViolations += n
		}
	}
	return roster, nil
}
