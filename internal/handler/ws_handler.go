package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
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

// WSHandler handles the live attempt stream.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Carries page signals and answer edits in, countdown and integrity events out.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()

	client := ws.NewClient(conn, wsLog)
	defer client.Close()

	ctx := c.Request.Context()
	session, err := h.attemptService.Attach(ctx, claims.UserID, attemptID, ws.NewAttemptStream(client))
	if err != nil {
		h.rejectAttach(ctx, client, claims.UserID, attemptID, err)
		return
	}
	defer session.Close()

	wsLog.Info().Msg("Student connected")
	client.Send(ws.StateResponse{Event: ws.EventState, State: session.State()})

	for {
		var msg ws.RequestPayload
		if err := client.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if fields := validator.Struct(&msg); fields != nil {
			client.Send(ws.ErrorResponse{
				Event:  ws.EventError,
				Code:   string(response.ErrValidation),
				Error:  response.GetMessage(response.ErrValidation),
				Fields: fields,
			})
			continue
		}

		switch msg.Action {
		case ws.ActionSignal:
			kind := attempt.SignalKind(msg.Kind)
			if !kind.Valid() {
				h.sendCode(client, response.ErrUnknownSignal)
				continue
			}
			session.Signal(ctx, kind)
		case ws.ActionAnswer:
			h.handleAnswer(ctx, client, session, &msg)
		case ws.ActionSubmit:
			if h.handleSubmit(ctx, client, wsLog, session) {
				return
			}
		case ws.ActionState:
			client.Send(ws.StateResponse{Event: ws.EventState, State: session.State()})
		case ws.ActionPing:
			client.Send(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			h.sendCode(client, response.ErrUnknownAction)
		}
	}
}

// rejectAttach tells the client why the stream cannot start. An attempt that
// is already submitted gets its receipt instead of an error.
func (h *WSHandler) rejectAttach(ctx context.Context, client *ws.Client, studentID int, attemptID uuid.UUID, err error) {
	if errors.Is(err, service.ErrAttemptSubmitted) {
		if receipt, rerr := h.attemptService.Result(ctx, studentID, attemptID); rerr == nil {
			client.Send(ws.SubmittedResponse{Event: ws.EventSubmitted, Receipt: receipt})
			return
		}
	}

	status, code := attemptErrorCode(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Attach attempt stream failed")
	}
	h.sendCode(client, code)
}

func (h *WSHandler) handleAnswer(ctx context.Context, client *ws.Client, session *service.AttemptSession, msg *ws.RequestPayload) {
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		h.sendCode(client, response.ErrInvalidID)
		return
	}

	draft, err := toDraft(questionID, msg.SelectedOptionID, msg.TextAnswer)
	if err == nil {
		err = session.SaveAnswer(ctx, questionID, draft)
	}
	if err != nil {
		_, code := attemptErrorCode(err)
		h.sendCode(client, code)
		return
	}

	client.Send(ws.SavedResponse{Event: ws.EventSaved, QuestionID: questionID})
}

// handleSubmit reports true once the attempt is handed in and the stream can end.
func (h *WSHandler) handleSubmit(ctx context.Context, client *ws.Client, wsLog zerolog.Logger, session *service.AttemptSession) bool {
	_, err := session.Submit(ctx)
	switch {
	case err == nil:
		// The submitted event is delivered by the controller.
		wsLog.Info().Msg("Attempt submitted from stream")
		return true
	case errors.Is(err, attempt.ErrSubmitFailed):
		// Already reported as submit_failed; the student may retry.
		return false
	default:
		_, code := attemptErrorCode(err)
		h.sendCode(client, code)
		return errors.Is(err, attempt.ErrAlreadySubmitted)
	}
}

func (h *WSHandler) sendCode(client *ws.Client, code response.ErrCode) {
	client.SendError(string(code), response.GetMessage(code))
}
