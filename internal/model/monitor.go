package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationEvent is one counted integrity violation, queued for the audit log
// and broadcast to proctors watching the exam.
type ViolationEvent struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	ExamID     uuid.UUID `json:"exam_id"`
	StudentID  int       `json:"student_id"`
	Kind       string    `json:"kind"`
	Count      int       `json:"count"`
	OccurredAt int64     `json:"occurred_at"`
}

// DraftSnapshot is one persisted answer edit, queued so proctors can follow progress.
type DraftSnapshot struct {
	AttemptID        uuid.UUID  `json:"attempt_id"`
	QuestionID       uuid.UUID  `json:"question_id"`
	SelectedOptionID *uuid.UUID `json:"selected_option_id"`
	TextAnswer       *string    `json:"text_answer"`
	SavedAt          int64      `json:"saved_at"`
}

// MonitorEventType enumerates what proctors receive on the exam monitor channel.
type MonitorEventType string

const (
	MonitorEventOpened    MonitorEventType = "opened"
	MonitorEventViolation MonitorEventType = "violation"
	MonitorEventSubmitted MonitorEventType = "submitted"
)

// MonitorEvent is published to the exam's Pub/Sub channel.
type MonitorEvent struct {
	Type      MonitorEventType `json:"type"`
	AttemptID uuid.UUID        `json:"attempt_id"`
	StudentID int              `json:"student_id"`
	Count     int              `json:"count,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	Trigger   SubmitTrigger    `json:"trigger,omitempty"`
	At        int64            `json:"at"`
}

// AttemptProgress is a proctor's row for one attempt.
type AttemptProgress struct {
	AttemptID      uuid.UUID      `json:"attempt_id"`
	StudentID      int            `json:"student_id"`
	Status         AttemptStatus  `json:"status"`
	Trigger        *SubmitTrigger `json:"trigger,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	SubmittedAt    *time.Time     `json:"submitted_at,omitempty"`
	AnsweredCount  int64          `json:"answered_count"`
	ViolationCount int64          `json:"violation_count"`
}
