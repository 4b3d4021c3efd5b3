package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ExamRepository reads exam definitions. Exams are authored elsewhere;
// this service only ever reads them.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetDefinition loads an exam with its questions and options in canonical order.
func (r *ExamRepository) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	def := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, status, duration_minutes, is_strict
		 FROM exams WHERE id = $1`, examID,
	).Scan(&def.ExamID, &def.Title, &def.Status, &def.DurationMinutes, &def.IsStrict)
	if err != nil {
		return nil, err
	}

	questions, err := r.listQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	options, err := r.listOptions(ctx, examID)
	if err != nil {
		return nil, err
	}

	for i := range questions {
		questions[i].Options = options[questions[i].ID]
	}
	def.Questions = questions
	return def, nil
}

func (r *ExamRepository) listQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, question_type, max_score, order_num
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY order_num ASC, id ASC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &q.MaxScore, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (r *ExamRepository) listOptions(ctx context.Context, examID uuid.UUID) (map[uuid.UUID][]model.QuestionOption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.question_id, o.label, o.order_num
		 FROM question_options o
		 JOIN questions q ON q.id = o.question_id
		 WHERE q.exam_id = $1
		 ORDER BY o.question_id, o.order_num ASC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	options := make(map[uuid.UUID][]model.QuestionOption)
	for rows.Next() {
		var (
			o          model.QuestionOption
			questionID uuid.UUID
		)
		if err := rows.Scan(&o.ID, &questionID, &o.Label, &o.OrderNum); err != nil {
			return nil, err
		}
		options[questionID] = append(options[questionID], o)
	}
	return options, rows.Err()
}

// ListTakeableIDs returns the IDs of exams students can currently attempt.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListTakeableIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exams WHERE status IN ($1, $2) ORDER BY created_at DESC`,
		model.ExamStatusPublished, model.ExamStatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
