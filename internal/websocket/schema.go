package websocket

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal Action = "signal"
	ActionAnswer Action = "answer"
	ActionSubmit Action = "submit"
	ActionState  Action = "state"
	ActionPing   Action = "ping"
)

// RequestPayload is the single inbound frame. Fields are read depending on Action.
type RequestPayload struct {
	Action Action `json:"action" binding:"required"`

	// signal
	Kind string `json:"kind,omitempty" binding:"omitempty,max=32"`

	// answer
	QuestionID       string  `json:"question_id,omitempty" binding:"omitempty,uuid"`
	SelectedOptionID *string `json:"selected_option_id,omitempty" binding:"omitempty,uuid"`
	TextAnswer       *string `json:"text_answer,omitempty" binding:"omitempty,max=20000"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState        Event = "state"
	EventTick         Event = "tick"
	EventWarning      Event = "warning"
	EventBreached     Event = "breached"
	EventSuppressed   Event = "suppressed"
	EventSaved        Event = "saved"
	EventSubmitted    Event = "submitted"
	EventSubmitFailed Event = "submit_failed"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

type StateResponse struct {
	Event Event               `json:"event"`
	State *model.AttemptState `json:"state"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining_seconds"`
}

type WarningResponse struct {
	Event     Event `json:"event"`
	Count     int   `json:"count"`
	Threshold int   `json:"threshold"`
}

type BreachedResponse struct {
	Event Event `json:"event"`
	Count int   `json:"count"`
}

type SuppressedResponse struct {
	Event Event  `json:"event"`
	Kind  string `json:"kind"`
}

type SavedResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
}

type SubmittedResponse struct {
	Event   Event                 `json:"event"`
	Receipt *model.AttemptReceipt `json:"receipt"`
}

type SubmitFailedResponse struct {
	Event   Event               `json:"event"`
	Trigger model.SubmitTrigger `json:"trigger"`
	Error   string              `json:"error"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
