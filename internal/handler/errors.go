package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/grading"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
	"github.com/stemsi/examguard-backend/internal/session"
	"github.com/stemsi/examguard-backend/internal/validator"
)

var domainErrors = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrNoSession, http.StatusNotFound, response.ErrNotEnrolled},
	{session.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrNotAssessmentTeacher, http.StatusForbidden, response.ErrNotOwner},
	{service.ErrAssessmentNotDraft, http.StatusConflict, response.ErrAssessmentNotDraft},
	{service.ErrAssessmentNotLive, http.StatusConflict, response.ErrAssessmentNotPublished},
	{session.ErrAssessmentNotPublished, http.StatusConflict, response.ErrAssessmentNotPublished},
	{session.ErrOutsideWindow, http.StatusForbidden, response.ErrOutsideWindow},
	{session.ErrNotStarted, http.StatusConflict, response.ErrNotStarted},
	{session.ErrAnswersFrozen, http.StatusConflict, response.ErrAnswersFrozen},
	{session.ErrNotSubmitted, http.StatusConflict, response.ErrNotSubmitted},
	{session.ErrUnknownQuestion, http.StatusBadRequest, response.ErrUnknownQuestion},
	{session.ErrInvalidAnswer, http.StatusUnprocessableEntity, response.ErrInvalidAnswer},
	{session.ErrInvalidPosition, http.StatusBadRequest, response.ErrInvalidPosition},
	{session.ErrTimeLimitReached, http.StatusConflict, response.ErrTimeLimitReached},
	{session.ErrEventsClosed, http.StatusConflict, response.ErrEventsClosed},
	{session.ErrNotReviewable, http.StatusBadRequest, response.ErrNotReviewable},
	{service.ErrUnknownSignal, http.StatusBadRequest, response.ErrInvalidPayload},
	{session.ErrMachineClosed, http.StatusServiceUnavailable, response.ErrRetryable},
	{grading.ErrSandboxUnavailable, http.StatusServiceUnavailable, response.ErrSandboxUnavailable},
}

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.status, d.code
		}
	}
	if session.IsRetryable(err) {
		return http.StatusServiceUnavailable, response.ErrRetryable
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// fail writes the error envelope for err. Unexpected errors are logged.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	var fields validator.FieldErrors
	if errors.As(err, &fields) {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
		return
	}

	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
