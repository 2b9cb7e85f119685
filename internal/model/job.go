package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationJob is queued for every recorded violation and persisted in batches.
type ViolationJob struct {
	SessionID  uuid.UUID     `json:"session_id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	StudentID  int           `json:"student_id"`
	Type       ViolationType `json:"type"`
	Count      int           `json:"count"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ResultJob is queued after a session was graded so the per-student best
// score can be updated in the background.
type ResultJob struct {
	SessionID uuid.UUID `json:"session_id"`
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int       `json:"student_id"`
	Score     float64   `json:"score"`
	IsRanked  bool      `json:"is_ranked"`
	GradedAt  time.Time `json:"graded_at"`
}
