package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusAbandoned  SessionStatus = "ABANDONED"
)

// ExamSession represents one attempt of a student at an exam.
type ExamSession struct {
	ID              uuid.UUID     `json:"id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	StudentID       int           `json:"student_id"`
	SessionNumber   int           `json:"session_number"`
	IsRanked        bool          `json:"is_ranked"`
	Status          SessionStatus `json:"status"`
	AnswersSnapshot AnswerState   `json:"answers_snapshot"`
	TabSwitchCount  int           `json:"tab_switch_count"`
	LastActiveAt    time.Time     `json:"last_active_at"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Demote removes ranking eligibility. There is no way back to ranked.
func (s *ExamSession) Demote() bool {
	if !s.IsRanked {
		return false
	}
	s.IsRanked = false
	return true
}

// Deadline returns the instant the attempt times out.
func (s *ExamSession) Deadline(duration time.Duration) time.Time {
	return s.CreatedAt.Add(duration)
}

// SessionCounts summarizes the past sessions of a student for one exam.
type SessionCounts struct {
	Total        int `json:"total"`
	NonAbandoned int `json:"non_abandoned"`
}

// SnapshotUpdate is what the sync loop pushes for an in-progress session.
type SnapshotUpdate struct {
	SessionID      uuid.UUID
	Answers        AnswerState
	TabSwitchCount int
	LastActiveAt   time.Time
	// Version increases with every answer edit or violation of the live session.
	Version uint64
}
