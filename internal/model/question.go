package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates how a question is answered.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeFreeResponse QuestionType = "FREE_RESPONSE"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	return t == QuestionTypeSingleChoice || t == QuestionTypeFreeResponse
}

// QuestionOption is one selectable option of a single-choice question.
type QuestionOption struct {
	ID       uuid.UUID `json:"option_id"`
	Label    string    `json:"label"`
	OrderNum int       `json:"order_num"`
}

// Question is a read-only exam question as seen during an attempt.
type Question struct {
	ID       uuid.UUID        `json:"question_id"`
	Text     string           `json:"question_text"`
	Type     QuestionType     `json:"type"`
	MaxScore float64          `json:"max_score"`
	OrderNum int              `json:"order_num"`
	Options  []QuestionOption `json:"options,omitempty"`
}

// HasOption reports whether optionID belongs to the question.
func (q *Question) HasOption(optionID uuid.UUID) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}
