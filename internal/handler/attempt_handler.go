package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// AttemptHandler handles the student-facing attempt endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// Open godoc
// POST /api/v1/student/attempts/:attempt_id/open
// Starts the attempt or resumes it with its original deadline.
func (h *AttemptHandler) Open(c *gin.Context) {
	claims, attemptID, ok := h.parse(c)
	if !ok {
		return
	}

	var req model.OpenAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	examID, _ := uuid.Parse(req.ExamID) // validated by binding

	view, err := h.attemptService.Open(c.Request.Context(), claims.UserID, attemptID, examID)
	if err != nil {
		failAttempt(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// State godoc
// GET /api/v1/student/attempts/:attempt_id/state
// Returns everything a reloading page needs to restore the attempt.
func (h *AttemptHandler) State(c *gin.Context) {
	claims, attemptID, ok := h.parse(c)
	if !ok {
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		failAttempt(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers/:question_id
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims, attemptID, ok := h.parse(c)
	if !ok {
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	draft, err := toDraft(questionID, req.SelectedOptionID, req.TextAnswer)
	if err == nil {
		err = h.attemptService.SaveAnswer(c.Request.Context(), claims.UserID, attemptID, questionID, draft)
	}
	if err != nil {
		failAttempt(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question_id": questionID, "status": "saved"})
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims, attemptID, ok := h.parse(c)
	if !ok {
		return
	}

	receipt, err := h.attemptService.Submit(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		failAttempt(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, receipt)
}

// Result godoc
// GET /api/v1/student/attempts/:attempt_id/result
// Returns the receipt of a submitted attempt. The score stays empty until graded.
func (h *AttemptHandler) Result(c *gin.Context) {
	claims, attemptID, ok := h.parse(c)
	if !ok {
		return
	}

	receipt, err := h.attemptService.Result(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		failAttempt(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, receipt)
}

func (h *AttemptHandler) parse(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, attemptID, true
}
