package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionKind enumerates the three answer formats an exam can carry.
type QuestionKind string

const (
	QuestionKindMC QuestionKind = "mc"
	QuestionKindTF QuestionKind = "tf"
	QuestionKindSA QuestionKind = "sa"
)

// QuestionSlot is a question as visible to the student: its position in the
// group only. Content and answers live elsewhere.
type QuestionSlot struct {
	Index int `json:"index"`
}

// QuestionRef addresses a single question of an exam.
type QuestionRef struct {
	Kind  QuestionKind `json:"kind"`
	Index int          `json:"index"`
}

// Policy holds the anti-cheat thresholds applied to a session.
type Policy struct {
	DemotionThreshold int `json:"demotion_threshold" yaml:"demotion_threshold"`
	MaxViolations     int `json:"max_violations" yaml:"max_violations"`
}

// ExamDefinition is the immutable, answer-free description of an exam.
type ExamDefinition struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	DurationSeconds int            `json:"duration_seconds"`
	MaxAttempts     int            `json:"max_attempts"`
	StartsAt        *time.Time     `json:"starts_at,omitempty"`
	EndsAt          *time.Time     `json:"ends_at,omitempty"`
	MCQuestions     []QuestionSlot `json:"mc_questions"`
	TFQuestions     []QuestionSlot `json:"tf_questions"`
	SAQuestions     []QuestionSlot `json:"sa_questions"`
	Policy          *Policy        `json:"policy,omitempty"`
}

// TotalQuestions returns the number of questions across all groups.
func (d *ExamDefinition) TotalQuestions() int {
	return len(d.MCQuestions) + len(d.TFQuestions) + len(d.SAQuestions)
}

// Group returns the question slots of the given kind.
func (d *ExamDefinition) Group(kind QuestionKind) []QuestionSlot {
	switch kind {
	case QuestionKindMC:
		return d.MCQuestions
	case QuestionKindTF:
		return d.TFQuestions
	case QuestionKindSA:
		return d.SAQuestions
	}
	return nil
}

// HasQuestion reports whether ref points at a question of this exam.
func (d *ExamDefinition) HasQuestion(ref QuestionRef) bool {
	for _, q := range d.Group(ref.Kind) {
		if q.Index == ref.Index {
			return true
		}
	}
	return false
}

// IsOpenAt reports whether t falls inside the scheduling window. A missing
// bound is treated as open.
func (d *ExamDefinition) IsOpenAt(t time.Time) bool {
	if d.StartsAt != nil && t.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && t.After(*d.EndsAt) {
		return false
	}
	return true
}

// Duration returns the exam duration.
func (d *ExamDefinition) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}
