package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionEventType enumerates the events emitted by the session engine.
type SessionEventType string

const (
	EventAttemptStarted    SessionEventType = "attempt_started"
	EventSessionResumable  SessionEventType = "session_resumable"
	EventSessionResumed    SessionEventType = "session_resumed"
	EventSessionRestarted  SessionEventType = "session_restarted"
	EventViolationRecorded SessionEventType = "violation_recorded"
	EventRankingDemoted    SessionEventType = "ranking_demoted"
	EventCountdownExpired  SessionEventType = "countdown_expired"
	EventSyncFailed        SessionEventType = "sync_failed"
	EventSubmitted         SessionEventType = "submitted"
)

// SessionEvent is a notification about a state change of a session.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	ExamID    uuid.UUID        `json:"exam_id"`
	StudentID int              `json:"student_id"`
	SessionID uuid.UUID        `json:"session_id"`
	At        time.Time        `json:"at"`
	Data      any              `json:"data,omitempty"`
}

// ViolationType names a client-reported focus or visibility signal.
type ViolationType string

const (
	ViolationTabHidden      ViolationType = "tab_hidden"
	ViolationWindowBlur     ViolationType = "window_blur"
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
	ViolationCopyPaste      ViolationType = "copy_paste"
	ViolationOther          ViolationType = "other"
)

// ViolationRequest is the payload a client sends to report a violation.
type ViolationRequest struct {
	Type ViolationType `json:"type" binding:"required,oneof=tab_hidden window_blur fullscreen_exit copy_paste other"`
}

// SubmitRequest is the payload of an explicit submission.
type SubmitRequest struct {
	Reason SubmitReason `json:"reason" binding:"omitempty,oneof=manual timeout violation"`
}
