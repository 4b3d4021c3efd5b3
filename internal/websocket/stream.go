package websocket

import (
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// AttemptStream forwards attempt controller events to a client.
type AttemptStream struct {
	client *Client
}

// NewAttemptStream creates an AttemptStream writing to client.
func NewAttemptStream(client *Client) *AttemptStream {
	return &AttemptStream{client: client}
}

func (s *AttemptStream) Tick(remaining int) {
	s.client.Send(TickResponse{Event: EventTick, Remaining: remaining})
}

func (s *AttemptStream) Warning(count, threshold int) {
	s.client.Send(WarningResponse{Event: EventWarning, Count: count, Threshold: threshold})
}

func (s *AttemptStream) Breached(count int) {
	s.client.Send(BreachedResponse{Event: EventBreached, Count: count})
}

func (s *AttemptStream) Suppressed(kind attempt.SignalKind) {
	s.client.Send(SuppressedResponse{Event: EventSuppressed, Kind: string(kind)})
}

func (s *AttemptStream) Submitted(receipt *model.AttemptReceipt) {
	s.client.Send(SubmittedResponse{Event: EventSubmitted, Receipt: receipt})
}

func (s *AttemptStream) SubmitFailed(trigger model.SubmitTrigger, err error) {
	s.client.Send(SubmitFailedResponse{Event: EventSubmitFailed, Trigger: trigger, Error: err.Error()})
}
