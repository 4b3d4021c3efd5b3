package model

import (
	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// Takeable reports whether attempts may be opened against an exam in this status.
func (s ExamStatus) Takeable() bool {
	return s == ExamStatusPublished || s == ExamStatusInProgress
}

// ExamDefinition is everything an attempt needs from the exam service:
// the duration, the strict (proctored) flag and the questions in canonical order.
type ExamDefinition struct {
	ExamID          uuid.UUID  `json:"exam_id"`
	Title           string     `json:"title"`
	Status          ExamStatus `json:"status"`
	DurationMinutes int        `json:"duration_minutes"`
	IsStrict        bool       `json:"is_strict"`
	Questions       []Question `json:"questions"`
}

// Question looks up a question by ID.
func (d *ExamDefinition) Question(id uuid.UUID) (*Question, bool) {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return &d.Questions[i], true
		}
	}
	return nil, false
}
