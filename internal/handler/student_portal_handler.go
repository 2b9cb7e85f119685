package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// SessionEngine is the session lifecycle used by the student-facing handlers.
type SessionEngine interface {
	BeginAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*service.Attempt, error)
	ContinueSession(ctx context.Context, examID uuid.UUID, studentID int) (*service.Attempt, error)
	RestartSession(ctx context.Context, examID uuid.UUID, studentID int) (*service.Attempt, error)
	GetState(ctx context.Context, examID uuid.UUID, studentID int) (*service.Attempt, error)
	RecordAnswer(ctx context.Context, examID uuid.UUID, studentID int, in model.AnswerInput) (int, error)
	RecordViolation(ctx context.Context, examID uuid.UUID, studentID int, v model.ViolationType) (*service.ViolationReport, error)
	Submit(ctx context.Context, examID uuid.UUID, studentID int, reason model.SubmitReason) (*model.GradedResult, error)
	History(ctx context.Context, examID uuid.UUID, studentID int) (*service.History, error)
}

// StudentPortalHandler handles student-facing exam session endpoints.
type StudentPortalHandler struct {
	sessions SessionEngine
	log      zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(sessions SessionEngine, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessions: sessions,
		log:      log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// BeginAttempt godoc
// POST /api/v1/student/exams/:exam_id/begin
// Starts a new attempt, or returns the resume prompt when one is in progress.
func (h *StudentPortalHandler) BeginAttempt(c *gin.Context) {
	studentID, examID, ok := h.target(c)
	if !ok {
		return
	}
	attempt, err := h.sessions.BeginAttempt(c.Request.Context(), examID, studentID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}

// ContinueSession godoc
// POST /api/v1/student/exams/:exam_id/continue
func (h *StudentPortalHandler) ContinueSession(c *gin.Context) {
	studentID, examID, ok := h.target(c)
	if !ok {
		return
	}
	attempt, err := h.sessions.ContinueSession(c.Request.Context(), examID, studentID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}

// RestartSession godoc
// POST /api/v1/student/exams/:exam_id/restart
// Abandons the session in progress and starts an unranked one.
func (h *StudentPortalHandler) RestartSession(c *gin.Context) {
	studentID, examID, ok := h.target(c)
	if !ok {
		return
	}
	attempt, err := h.sessions.RestartSession(c.Request.Context(), examID, studentID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}

// GetExamState godoc
// GET /api/v1/student/exams/:exam_id/state
// Covers page reloads: answers, paper order and remaining time.
func (h *StudentPortalHandler) GetExamState(c *gin.Context) {
	studentID, examID, ok := h.target(c)
	if !ok {
		return
	}
	attempt, err := h.sessions.GetState(c.Request.Context(), examID, studentID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}

// RecordAnswer godoc
// PUT /api/v1/student/exams/:exam_id/answers
func (h *StudentPortalHandler) RecordAnswer(c *gin.Context) {
	studentID, examID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.AnswerInput
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answered, err := h.sessions.RecordAnswer(c.Request.Context(), examID, studentID, req)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answered_count": answered})
}

// RecordViolation godoc
// POST /api/v1/student/exams/:exam_id/violations
func (h *StudentPortalHandler) RecordViolation(c *gin.Context) {
	studentID, examID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.ViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	report, err := h.sessions.RecordViolation(c.Request.Context(), examID, studentID, req.Type)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
func (h *StudentPortalHandler) Submit(c *gin.Context) {
	studentID, examID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res, err := h.sessions.Submit(c.Request.Context(), examID, studentID, req.Reason)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetResults godoc
// GET /api/v1/student/exams/:exam_id/results
func (h *StudentPortalHandler) GetResults(c *gin.Context) {
	studentID, examID, ok := h.target(c)
	if !ok {
		return
	}
	history, err := h.sessions.History(c.Request.Context(), examID, studentID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, history)
}

// target resolves the student from the token and the exam from the path.
func (h *StudentPortalHandler) target(c *gin.Context) (int, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, uuid.Nil, false
	}
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, uuid.Nil, false
	}
	return claims.UserID, examID, true
}
