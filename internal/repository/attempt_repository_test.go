package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-attempt/internal/model"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("DATABASE_TEST_URL not set; skipping postgres integration test")
	}

	m, err := migrate.New("file://../../migrations", url)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	m.Close()

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type seededExam struct {
	examID uuid.UUID
	choice uuid.UUID
	free   uuid.UUID
	option uuid.UUID
}

func seedExam(t *testing.T, pool *pgxpool.Pool) seededExam {
	t.Helper()
	ctx := context.Background()
	s := seededExam{examID: uuid.New(), choice: uuid.New(), free: uuid.New(), option: uuid.New()}

	_, err := pool.Exec(ctx,
		`INSERT INTO exams (id, title, status, duration_minutes, is_strict) VALUES ($1, 'Kimia', 'PUBLISHED', 45, TRUE)`, s.examID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO questions (id, exam_id, question_text, question_type, max_score, order_num)
		 VALUES ($1, $3, 'Pilih unsur', 'SINGLE_CHOICE', 1, 1),
		        ($2, $3, 'Jelaskan ikatan ion', 'FREE_RESPONSE', 4, 2)`, s.choice, s.free, s.examID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO question_options (id, question_id, label, order_num) VALUES ($1, $2, 'Na', 1), (gen_random_uuid(), $2, 'Cl', 2)`,
		s.option, s.choice)
	require.NoError(t, err)

	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `DELETE FROM exams WHERE id = $1`, s.examID) })
	return s
}

func TestExamRepository_GetDefinition(t *testing.T) {
	pool := newTestPool(t)
	s := seedExam(t, pool)

	def, err := NewExamRepository(pool).GetDefinition(context.Background(), s.examID)
	require.NoError(t, err)

	assert.Equal(t, 45, def.DurationMinutes)
	assert.True(t, def.IsStrict)
	require.Len(t, def.Questions, 2)
	assert.Equal(t, s.choice, def.Questions[0].ID)
	assert.Equal(t, model.QuestionTypeSingleChoice, def.Questions[0].Type)
	require.Len(t, def.Questions[0].Options, 2)
	assert.Equal(t, s.option, def.Questions[0].Options[0].ID)
	assert.Empty(t, def.Questions[1].Options)
}

func TestAttemptRepository_SubmitIsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	s := seedExam(t, pool)
	repo := NewAttemptRepository(pool)
	ctx := context.Background()

	attemptID := uuid.New()
	a, err := repo.Ensure(ctx, attemptID, s.examID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, a.Status)

	_, err = repo.Ensure(ctx, attemptID, s.examID, 7)
	require.NoError(t, err)

	_, err = repo.Ensure(ctx, uuid.New(), s.examID, 7)
	assert.ErrorIs(t, err, ErrAttemptTaken)
	_, err = repo.Ensure(ctx, attemptID, s.examID, 8)
	assert.ErrorIs(t, err, ErrAttemptTaken)

	text := "transfer elektron"
	req := &model.SubmitRequest{
		AttemptID: attemptID,
		Trigger:   model.TriggerExpired,
		Answers: []model.AnswerDraft{
			{QuestionID: s.choice, SelectedOptionID: &s.option},
			{QuestionID: s.free, TextAnswer: &text},
		},
	}
	first, err := repo.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusSubmitted, first.Status)
	assert.Equal(t, model.TriggerExpired, first.Trigger)

	req.Trigger = model.TriggerManual
	second, err := repo.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.TriggerExpired, second.Trigger)
	assert.True(t, first.SubmittedAt.Equal(second.SubmittedAt))

	var answers int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM attempt_answers WHERE attempt_id = $1`, attemptID).Scan(&answers))
	assert.Equal(t, 2, answers)

	receipt, err := repo.Receipt(ctx, attemptID)
	require.NoError(t, err)
	assert.Nil(t, receipt.FinalScore)
}
