package websocket

import "github.com/stemsi/exstem-engine/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionBegin     Action = "begin"
	ActionContinue  Action = "continue"
	ActionRestart   Action = "restart"
	ActionAnswer    Action = "answer"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// Request is one client message. Only the field matching Action is read.
type Request struct {
	Action Action `json:"action"`
	// RequestID is echoed on the reply so clients can match responses.
	RequestID string              `json:"request_id,omitempty"`
	Answer    *model.AnswerInput  `json:"answer,omitempty"`
	Violation model.ViolationType `json:"violation,omitempty"`
	Reason    model.SubmitReason  `json:"reason,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAttempt   Event = "attempt"
	EventSaved     Event = "saved"
	EventViolation Event = "violation"
	EventGraded    Event = "graded"
	EventSession   Event = "session"
	EventPong      Event = "pong"
	EventError     Event = "error"
)

// Response is every server message: a reply to a request or a pushed
// session event.
type Response struct {
	Event     Event      `json:"event"`
	RequestID string     `json:"request_id,omitempty"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SavedData acknowledges an answer edit.
type SavedData struct {
	AnsweredCount int `json:"answered_count"`
}
