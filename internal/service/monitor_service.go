package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ProgressSource reads attempt progress for proctors.
type ProgressSource interface {
	ListAttempts(ctx context.Context, examID uuid.UUID) ([]model.AttemptProgress, error)
	GetAnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error)
	GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error)
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	source ProgressSource
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(source ProgressSource) *MonitorService {
	return &MonitorService{source: source}
}

// ExamProgressSnapshot is the proctor view of every attempt of one exam.
type ExamProgressSnapshot struct {
	ExamID          uuid.UUID               `json:"exam_id"`
	Attempts        []model.AttemptProgress `json:"attempts"`
	InProgress      int                     `json:"in_progress"`
	Submitted       int                     `json:"submitted"`
	TotalViolations int64                   `json:"total_violations"`
}

// GetExamProgress returns attempts merged with answered and violation counts.
// The three fetches run in parallel.
func (s *MonitorService) GetExamProgress(ctx context.Context, examID uuid.UUID) (*ExamProgressSnapshot, error) {
	var (
		attempts        []model.AttemptProgress
		answeredCounts  map[uuid.UUID]int64
		violationCounts map[uuid.UUID]int64
		attemptsErr     error
		answeredErr     error
		violationErr    error
		wg              sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		attempts, attemptsErr = s.source.ListAttempts(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.source.GetAnsweredCounts(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		violationCounts, violationErr = s.source.GetViolationCounts(ctx, examID)
	}()
	wg.Wait()

	// The attempt list is critical; counts are best-effort
	if attemptsErr != nil {
		return nil, attemptsErr
	}
	if answeredErr != nil {
		answeredCounts = nil
	}
	if violationErr != nil {
		violationCounts = nil
	}

	snapshot := &ExamProgressSnapshot{
		ExamID:   examID,
		Attempts: make([]model.AttemptProgress, 0, len(attempts)),
	}
	for _, a := range attempts {
		a.AnsweredCount = answeredCounts[a.AttemptID]
		a.ViolationCount = violationCounts[a.AttemptID]
		snapshot.TotalViolations += a.ViolationCount
		if a.Status == model.AttemptStatusSubmitted {
			snapshot.Submitted++
		} else {
			snapshot.InProgress++
		}
		snapshot.Attempts = append(snapshot.Attempts, a)
	}

	return snapshot, nil
}
