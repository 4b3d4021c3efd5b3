package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// attemptErrorCode maps attempt and service errors to an HTTP status and API code.
func attemptErrorCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case errors.Is(err, service.ErrAttemptForbidden), errors.Is(err, attempt.ErrExamMismatch):
		return http.StatusForbidden, response.ErrAttemptTaken
	case errors.Is(err, service.ErrAttemptSubmitted), errors.Is(err, attempt.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAttemptSubmitted
	case errors.Is(err, service.ErrAttemptInProgress):
		return http.StatusConflict, response.ErrAttemptInProgress
	case errors.Is(err, attempt.ErrSubmissionPending):
		return http.StatusConflict, response.ErrSubmissionPending
	case errors.Is(err, attempt.ErrSubmitFailed):
		return http.StatusBadGateway, response.ErrSubmissionFailed
	case errors.Is(err, attempt.ErrInvalidAnswer):
		return http.StatusBadRequest, response.ErrInvalidAnswer
	case errors.Is(err, attempt.ErrUnknownQuestion):
		return http.StatusNotFound, response.ErrUnknownQuestion
	case errors.Is(err, attempt.ErrClosed):
		return http.StatusConflict, response.ErrAttemptClosed
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, service.ErrExamNotTakeable):
		return http.StatusForbidden, response.ErrExamNotAvailable
	case errors.Is(err, attempt.ErrExamUnavailable):
		return http.StatusServiceUnavailable, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrServiceClosed):
		return http.StatusServiceUnavailable, response.ErrServiceShuttingDown
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failAttempt writes the error response for err, logging unexpected ones.
func failAttempt(c *gin.Context, log zerolog.Logger, err error) {
	status, code := attemptErrorCode(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Attempt request failed")
	}
	response.Fail(c, status, code)
}

// toDraft converts wire fields into an AnswerDraft.
func toDraft(questionID uuid.UUID, selectedOptionID, textAnswer *string) (model.AnswerDraft, error) {
	draft := model.AnswerDraft{QuestionID: questionID, TextAnswer: textAnswer}
	if selectedOptionID != nil {
		id, err := uuid.Parse(*selectedOptionID)
		if err != nil {
			return draft, attempt.ErrInvalidAnswer
		}
		draft.SelectedOptionID = &id
	}
	return draft, nil
}
