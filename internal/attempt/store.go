package attempt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// RecordVersion is the schema version written into every persisted record.
// Records carrying any other version are discarded as corrupt.
const RecordVersion = 1

// Record is the durable state of one attempt. It is always read and written
// as a single blob; no field is ever updated without a fresh read.
type Record struct {
	Version          int                             `json:"v"`
	AttemptID        uuid.UUID                       `json:"attempt_id"`
	ExamID           uuid.UUID                       `json:"exam_id"`
	Answers          map[uuid.UUID]model.AnswerDraft `json:"answers"`
	AbsoluteDeadline int64                           `json:"absolute_deadline"`
	ViolationCount   int                             `json:"violation_count"`
}

// NewRecord builds a fresh record with no answers and no violations.
func NewRecord(attemptID, examID uuid.UUID, deadlineMs int64) *Record {
	return &Record{
		Version:          RecordVersion,
		AttemptID:        attemptID,
		ExamID:           examID,
		Answers:          make(map[uuid.UUID]model.AnswerDraft),
		AbsoluteDeadline: deadlineMs,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Answers = make(map[uuid.UUID]model.AnswerDraft, len(r.Answers))
	for k, v := range r.Answers {
		cp.Answers[k] = v
	}
	return &cp
}

// Validate checks the invariants a decoded record must satisfy.
func (r *Record) Validate() error {
	switch {
	case r.Version != RecordVersion:
		return fmt.Errorf("%w: version %d", ErrCorruptRecord, r.Version)
	case r.AttemptID == uuid.Nil || r.ExamID == uuid.Nil:
		return fmt.Errorf("%w: missing identifiers", ErrCorruptRecord)
	case r.AbsoluteDeadline <= 0:
		return fmt.Errorf("%w: deadline %d", ErrCorruptRecord, r.AbsoluteDeadline)
	case r.ViolationCount < 0:
		return fmt.Errorf("%w: violation count %d", ErrCorruptRecord, r.ViolationCount)
	}
	return nil
}

// EncodeRecord serialises a record for storage.
func EncodeRecord(r *Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// DecodeRecord parses a stored blob. Anything unreadable yields ErrCorruptRecord.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Answers == nil {
		r.Answers = make(map[uuid.UUID]model.AnswerDraft)
	}
	return &r, nil
}

// Store persists attempt records keyed by attempt ID.
//
// Get returns ErrRecordNotFound or ErrCorruptRecord when there is nothing usable.
// Create stores rec unless a valid record already exists, in which case the
// existing record is returned with created=false; corrupt records are overwritten.
// Update applies fn to the latest stored snapshot and writes the result
// atomically, retrying when another writer got in between.
type Store interface {
	Get(ctx context.Context, attemptID uuid.UUID) (*Record, error)
	Create(ctx context.Context, rec *Record) (stored *Record, created bool, err error)
	Update(ctx context.Context, attemptID uuid.UUID, fn func(*Record) error) (*Record, error)
	Delete(ctx context.Context, attemptID uuid.UUID) error
}
