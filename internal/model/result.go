package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// SubmitReason records what triggered the submission of a session.
type SubmitReason string

const (
	SubmitReasonManual    SubmitReason = "manual"
	SubmitReasonTimeout   SubmitReason = "timeout"
	SubmitReasonViolation SubmitReason = "violation"
)

// Forced reports whether the submission was not an explicit student action.
func (r SubmitReason) Forced() bool {
	return r == SubmitReasonTimeout || r == SubmitReasonViolation
}

// Valid reports whether r is a known reason.
func (r SubmitReason) Valid() bool {
	switch r {
	case SubmitReasonManual, SubmitReasonTimeout, SubmitReasonViolation:
		return true
	}
	return false
}

// TypeBreakdown is the credit earned within one question group.
type TypeBreakdown struct {
	Questions int     `json:"questions"`
	Credit    float64 `json:"credit"`
}

// Breakdown splits the earned credit by question kind.
type Breakdown struct {
	MC TypeBreakdown `json:"mc"`
	TF TypeBreakdown `json:"tf"`
	SA TypeBreakdown `json:"sa"`
}

// CheatFlags summarizes anti-cheat signals at submission time.
type CheatFlags struct {
	TabSwitches  int  `json:"tab_switches"`
	ForcedSubmit bool `json:"forced_submit"`
}

// GradedResult is the immutable outcome of grading one session.
type GradedResult struct {
	SessionID        uuid.UUID    `json:"session_id"`
	Score            float64      `json:"score"`
	CorrectCount     float64      `json:"correct_count"`
	TotalQuestions   int          `json:"total_questions"`
	Breakdown        Breakdown    `json:"breakdown"`
	TimeSpentSeconds int          `json:"time_spent_seconds"`
	CheatFlags       CheatFlags   `json:"cheat_flags"`
	Reason           SubmitReason `json:"reason"`
	IsRanked         bool         `json:"is_ranked"`
	GradedAt         time.Time    `json:"graded_at"`
}

// DisplayScore rounds the score to one decimal. The stored score keeps full precision.
func (r *GradedResult) DisplayScore() float64 {
	return math.Round(r.Score*10) / 10
}

// Submission is the best graded attempt of a student at an exam.
type Submission struct {
	ExamID        uuid.UUID `json:"exam_id"`
	StudentID     int       `json:"student_id"`
	BestScore     float64   `json:"best_score"`
	BestSessionID uuid.UUID `json:"best_session_id"`
	Attempts      int       `json:"attempts"`
	UpdatedAt     time.Time `json:"updated_at"`
}
