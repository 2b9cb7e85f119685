package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/session"
)

// classify maps a service error to its HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrExamNotAvailable):
		return http.StatusForbidden, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrAttemptLimitExceeded):
		return http.StatusConflict, response.ErrAttemptLimitExceeded
	case errors.Is(err, service.ErrNoActiveSession):
		return http.StatusNotFound, response.ErrNoActiveSession
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, model.ErrInvalidAnswer), errors.Is(err, service.ErrInvalidSubmitReason):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrIllegalTransition):
		return http.StatusConflict, response.ErrSessionClosed
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failSession writes the error envelope for err. Unexpected errors are logged.
func failSession(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.GetRequestID(c)).
			Msg("Session request failed")
	}
	response.Fail(c, status, code)
}
