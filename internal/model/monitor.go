package model

import (
	"time"

	"github.com/google/uuid"
)

// RosterEntry is one in-progress session as shown to proctors.
type RosterEntry struct {
	SessionID      uuid.UUID `json:"session_id"`
	StudentID      int       `json:"student_id"`
	SessionNumber  int       `json:"session_number"`
	IsRanked       bool      `json:"is_ranked"`
	TabSwitchCount int       `json:"tab_switch_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// Roster is the proctor view of an exam.
type Roster struct {
	Sessions        []RosterEntry `json:"sessions"`
	ViolationCounts map[int]int64 `json:"violation_counts"`
	TotalViolations int64         `json:"total_violations"`
	Submitted       int           `json:"submitted"`
}
