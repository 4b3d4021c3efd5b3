package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ErrAttemptTaken is returned when an attempt ID is already bound to a
// different exam or student, or the student already holds another attempt
// for the same exam.
var ErrAttemptTaken = errors.New("attempt belongs to another exam or student")

// AttemptRepository is the exam service's side of an attempt: who owns it,
// whether it has been submitted and the answers handed over.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, submit_trigger, started_at, submitted_at, final_score
		 FROM attempts WHERE id = $1`, attemptID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.Trigger, &a.StartedAt, &a.SubmittedAt, &a.FinalScore)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Ensure registers the attempt for studentID if it does not exist yet and
// returns the stored row. Opening the same attempt twice is a no-op.
func (r *AttemptRepository) Ensure(ctx context.Context, attemptID, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		attemptID, examID, studentID, model.AttemptStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	a, err := r.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		// The insert collided on (exam_id, student_id).
		return nil, ErrAttemptTaken
	}
	if err != nil {
		return nil, err
	}
	if a.ExamID != examID || a.StudentID != studentID {
		return nil, ErrAttemptTaken
	}
	return a, nil
}

// Submit stores the final answers and marks the attempt SUBMITTED in one
// transaction. An attempt that is already submitted is left untouched and its
// existing receipt is returned, so a retried request is harmless.
func (r *AttemptRepository) Submit(ctx context.Context, req *model.SubmitRequest) (*model.AttemptReceipt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		examID uuid.UUID
		status model.AttemptStatus
	)
	err = tx.QueryRow(ctx,
		`SELECT exam_id, status FROM attempts WHERE id = $1 FOR UPDATE`, req.AttemptID,
	).Scan(&examID, &status)
	if err != nil {
		return nil, fmt.Errorf("lock attempt: %w", err)
	}

	if status == model.AttemptStatusSubmitted {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return r.Receipt(ctx, req.AttemptID)
	}

	batch := &pgx.Batch{}
	for _, a := range req.Answers {
		batch.Queue(
			`INSERT INTO attempt_answers (attempt_id, question_id, selected_option_id, text_answer)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET selected_option_id = EXCLUDED.selected_option_id,
			     text_answer = EXCLUDED.text_answer`,
			req.AttemptID, a.QuestionID, a.SelectedOptionID, a.TextAnswer,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("store answers: %w", err)
		}
	}

	receipt := &model.AttemptReceipt{
		AttemptID: req.AttemptID,
		ExamID:    examID,
		Status:    model.AttemptStatusSubmitted,
		Trigger:   req.Trigger,
	}
	err = tx.QueryRow(ctx,
		`UPDATE attempts
		 SET status = $1, submit_trigger = $2, submitted_at = NOW()
		 WHERE id = $3
		 RETURNING submitted_at`,
		model.AttemptStatusSubmitted, req.Trigger, req.AttemptID,
	).Scan(&receipt.SubmittedAt)
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return receipt, nil
}

// Receipt returns the read-only receipt of a submitted attempt.
// The final score stays nil until the grading service has filled it in.
func (r *AttemptRepository) Receipt(ctx context.Context, attemptID uuid.UUID) (*model.AttemptReceipt, error) {
	a, err := r.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusSubmitted || a.SubmittedAt == nil {
		return nil, pgx.ErrNoRows
	}

	receipt := &model.AttemptReceipt{
		AttemptID:   a.ID,
		ExamID:      a.ExamID,
		Status:      a.Status,
		SubmittedAt: *a.SubmittedAt,
		FinalScore:  a.FinalScore,
	}
	if a.Trigger != nil {
		receipt.Trigger = *a.Trigger
	}
	return receipt, nil
}
