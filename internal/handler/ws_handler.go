package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/validator"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// EventSubscriber delivers the session events of one student.
type EventSubscriber interface {
	Subscribe(examID uuid.UUID, studentID int) (<-chan model.SessionEvent, func())
}

// WSHandler runs the live exam stream: student actions in, replies and
// session events out.
type WSHandler struct {
	sessions SessionEngine
	events   EventSubscriber
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions SessionEngine, events EventSubscriber, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		events:   events,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	// Forward session events (timeouts, forced submits, demotions) pushed
	// by the engine outside any request.
	evs, cancel := h.events.Subscribe(examID, studentID)
	defer cancel()
	go func() {
		for ev := range evs {
			if err := conn.WriteTyped(ws.Response{Event: ws.EventSession, Data: ev}); err != nil {
				wsLog.Debug().Err(err).Msg("Event forward failed")
				return
			}
		}
	}()

	ctx := context.WithoutCancel(c.Request.Context())
	for {
		var req ws.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(ctx, conn, wsLog, examID, studentID, req)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, log zerolog.Logger, examID uuid.UUID, studentID int, req ws.Request) {
	var (
		event ws.Event
		data  any
		err   error
	)

	switch req.Action {
	case ws.ActionPing:
		event = ws.EventPong

	case ws.ActionBegin:
		event = ws.EventAttempt
		data, err = h.sessions.BeginAttempt(ctx, examID, studentID)

	case ws.ActionContinue:
		event = ws.EventAttempt
		data, err = h.sessions.ContinueSession(ctx, examID, studentID)

	case ws.ActionRestart:
		event = ws.EventAttempt
		data, err = h.sessions.RestartSession(ctx, examID, studentID)

	case ws.ActionAnswer:
		if req.Answer == nil {
			conn.WriteError(req.RequestID, string(response.ErrValidation), "answer is required")
			return
		}
		if fields := validator.Check(req.Answer); fields != nil {
			conn.WriteError(req.RequestID, string(response.ErrValidation), validator.First(fields))
			return
		}
		var n int
		n, err = h.sessions.RecordAnswer(ctx, examID, studentID, *req.Answer)
		event, data = ws.EventSaved, ws.SavedData{AnsweredCount: n}

	case ws.ActionViolation:
		if fields := validator.Check(model.ViolationRequest{Type: req.Violation}); fields != nil {
			conn.WriteError(req.RequestID, string(response.ErrValidation), validator.First(fields))
			return
		}
		event = ws.EventViolation
		data, err = h.sessions.RecordViolation(ctx, examID, studentID, req.Violation)

	case ws.ActionSubmit:
		if fields := validator.Check(model.SubmitRequest{Reason: req.Reason}); fields != nil {
			conn.WriteError(req.RequestID, string(response.ErrValidation), validator.First(fields))
			return
		}
		event = ws.EventGraded
		data, err = h.sessions.Submit(ctx, examID, studentID, req.Reason)

	default:
		log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
		conn.WriteError(req.RequestID, string(response.ErrValidation), "unknown action: "+string(req.Action))
		return
	}

	if err != nil {
		status, code := classify(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("action", string(req.Action)).Msg("Session action failed")
		}
		conn.WriteError(req.RequestID, string(code), response.GetMessage(code))
		return
	}
	if werr := conn.WriteTyped(ws.Response{Event: event, RequestID: req.RequestID, Data: data}); werr != nil {
		log.Debug().Err(werr).Msg("Reply write failed")
	}
}
