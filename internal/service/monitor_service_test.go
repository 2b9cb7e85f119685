package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

type fakeRoster struct {
	sessions      []model.RosterEntry
	submitted     int
	violations    map[int]int64
	sessionsErr   error
	violationsErr error
}

func (f *fakeRoster) ListInProgress(context.Context, uuid.UUID) ([]model.RosterEntry, error) {
	return f.sessions, f.sessionsErr
}

func (f *fakeRoster) CountSubmitted(context.Context, uuid.UUID) (int, error) {
	return f.submitted, nil
}

func (f *fakeRoster) GetViolationCounts(context.Context, uuid.UUID) (map[int]int64, error) {
	return f.violations, f.violationsErr
}

func TestMonitorServiceGetRoster(t *testing.T) {
	entry := model.RosterEntry{SessionID: uuid.New(), StudentID: 4, SessionNumber: 1, IsRanked: true, StartedAt: time.Now()}

	tests := []struct {
		name       string
		store      *fakeRoster
		wantErr    bool
		wantTotal  int64
		wantLength int
	}{
		{
			name:       "full roster",
			store:      &fakeRoster{sessions: []model.RosterEntry{entry}, submitted: 3, violations: map[int]int64{4: 2, 5: 1}},
			wantTotal:  3,
			wantLength: 1,
		},
		{
			name:       "violation counts are best effort",
			store:      &fakeRoster{sessions: []model.RosterEntry{entry}, violationsErr: errors.New("timeout")},
			wantLength: 1,
		},
		{
			name:       "empty exam",
			store:      &fakeRoster{},
			wantLength: 0,
		},
		{
			name:    "sessions are required",
			store:   &fakeRoster{sessionsErr: errors.New("db down")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMonitorService(tt.store, zerolog.Nop())
			roster, err := svc.GetRoster(context.Background(), uuid.New())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(roster.Sessions) != tt.wantLength || roster.Sessions == nil {
				t.Fatalf("sessions = %v", roster.Sessions)
			}
			if roster.TotalViolations != tt.wantTotal {
				t.Fatalf("total violations = %d, want %d", roster.TotalViolations, tt.wantTotal)
			}
			if roster.Submitted != tt.store.submitted {
				t.Fatalf("submitted = %d", roster.Submitted)
			}
		})
	}
}
