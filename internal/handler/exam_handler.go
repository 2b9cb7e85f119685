package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// ExamCache is the cached exam catalog as seen by administrators.
type ExamCache interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	GetAnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error)
	Invalidate(ctx context.Context, examID uuid.UUID) error
}

// ResultHistory reads the graded attempts of a student.
type ResultHistory interface {
	History(ctx context.Context, examID uuid.UUID, studentID int) (*service.History, error)
}

// ExamHandler handles exam administration endpoints.
type ExamHandler struct {
	exams   ExamCache
	results ResultHistory
	log     zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams ExamCache, results ResultHistory, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		exams:   exams,
		results: results,
		log:     log.With().Str("component", "exam_handler").Logger(),
	}
}

// RefreshExamCache godoc
// POST /api/v1/admin/exams/:exam_id/refresh-cache
// Drops and reloads the cached definition and answer key after an edit.
// Sessions already running keep the paper they were dealt.
func (h *ExamHandler) RefreshExamCache(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	if err := h.exams.Invalidate(ctx, examID); err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Cache invalidation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	def, err := h.exams.GetDefinition(ctx, examID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	if _, err := h.exams.GetAnswerKey(ctx, examID); err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":         "exam cache refreshed successfully",
		"total_questions": def.TotalQuestions(),
	})
}

// GetStudentResults godoc
// GET /api/v1/admin/exams/:exam_id/students/:student_id/results
func (h *ExamHandler) GetStudentResults(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil || studentID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	history, err := h.results.History(c.Request.Context(), examID, studentID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, history)
}
