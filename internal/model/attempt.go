package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states as recorded by the exam service.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// SubmitTrigger names the event that caused an attempt to be submitted.
type SubmitTrigger string

const (
	TriggerManual         SubmitTrigger = "manual"
	TriggerExpired        SubmitTrigger = "expired"
	TriggerViolationLimit SubmitTrigger = "violation_limit"
	TriggerReconnect      SubmitTrigger = "reconnect"
)

// AnswerDraft is a test-taker's current answer to one question.
// Exactly one of SelectedOptionID and TextAnswer is meaningful, depending on
// the question type; the other is always nil.
type AnswerDraft struct {
	QuestionID       uuid.UUID  `json:"question_id"`
	SelectedOptionID *uuid.UUID `json:"selected_option_id"`
	TextAnswer       *string    `json:"text_answer"`
}

// Attempt is one student's attempt at one exam.
type Attempt struct {
	ID          uuid.UUID      `json:"id"`
	ExamID      uuid.UUID      `json:"exam_id"`
	StudentID   int            `json:"student_id"`
	Status      AttemptStatus  `json:"status"`
	Trigger     *SubmitTrigger `json:"trigger,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
	FinalScore  *float64       `json:"final_score,omitempty"`
}

// SubmitRequest is the single request that hands an attempt over to the exam service.
type SubmitRequest struct {
	AttemptID uuid.UUID     `json:"attempt_id"`
	Trigger   SubmitTrigger `json:"trigger"`
	Answers   []AnswerDraft `json:"answers"`
}

// AttemptReceipt is what the client keeps after a successful submission.
type AttemptReceipt struct {
	AttemptID   uuid.UUID     `json:"attempt_id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	Status      AttemptStatus `json:"status"`
	Trigger     SubmitTrigger `json:"trigger"`
	SubmittedAt time.Time     `json:"submitted_at"`
	FinalScore  *float64      `json:"final_score,omitempty"`
}

// AttemptState is returned to a reloading client so it can restore the screen.
type AttemptState struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	ExamID           uuid.UUID     `json:"exam_id"`
	AbsoluteDeadline int64         `json:"absolute_deadline"`
	RemainingSeconds int           `json:"remaining_seconds"`
	ViolationCount   int           `json:"violation_count"`
	Threshold        int           `json:"violation_threshold"`
	IsStrict         bool          `json:"is_strict"`
	Answers          []AnswerDraft `json:"answers"`
}

// OpenAttemptRequest is the payload for opening (or resuming) an attempt.
type OpenAttemptRequest struct {
	ExamID string `json:"exam_id" binding:"required,uuid"`
}

// SaveAnswerRequest is the payload for caching one answer draft.
type SaveAnswerRequest struct {
	SelectedOptionID *string `json:"selected_option_id" binding:"omitempty,uuid"`
	TextAnswer       *string `json:"text_answer" binding:"omitempty,max=20000"`
}

// AttemptView is what an opening client needs to render the exam screen.
type AttemptView struct {
	State *AttemptState   `json:"state"`
	Exam  *ExamDefinition `json:"exam"`
}
