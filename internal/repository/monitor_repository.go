package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// MonitorRepository provides data access for the live proctoring view.
// Attempts come from PostgreSQL; per-attempt counters come from the tables
// the draft and violation workers fill.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListAttempts returns every attempt of the exam, newest first.
func (r *MonitorRepository) ListAttempts(ctx context.Context, examID uuid.UUID) ([]model.AttemptProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, status, submit_trigger, started_at, submitted_at
		 FROM attempts
		 WHERE exam_id = $1
		 ORDER BY started_at DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttemptProgress
	for rows.Next() {
		var p model.AttemptProgress
		if err := rows.Scan(&p.AttemptID, &p.StudentID, &p.Status, &p.Trigger, &p.StartedAt, &p.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetAnsweredCounts returns how many questions each attempt has a draft for.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT d.attempt_id, COUNT(*)
		 FROM attempt_drafts d
		 JOIN attempts a ON a.id = d.attempt_id
		 WHERE a.exam_id = $1
		 GROUP BY d.attempt_id`, examID)
}

// GetViolationCounts returns the number of audited violations per attempt.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT attempt_id, COUNT(*)
		 FROM attempt_violations
		 WHERE exam_id = $1
		 GROUP BY attempt_id`, examID)
}

func (r *MonitorRepository) countBy(ctx context.Context, query string, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx, query, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var (
			id    uuid.UUID
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
