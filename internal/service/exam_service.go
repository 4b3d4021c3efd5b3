package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Domain Errors
var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrExamNotTakeable = errors.New("exam is not open for attempts")
	ErrNoQuestions     = errors.New("exam has no questions")
)

// ExamDefinitionCacheTTL bounds how long a cached definition survives an
// edit made by the authoring service without an explicit refresh.
const ExamDefinitionCacheTTL = 6 * time.Hour

// ExamLoader reads exam definitions from the source of truth.
type ExamLoader interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	ListTakeableIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ExamService serves exam definitions through a Redis read-through cache.
type ExamService struct {
	loader ExamLoader
	rdb    *redis.Client
	log    zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(loader ExamLoader, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		loader: loader,
		rdb:    rdb,
		log:    log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition returns the exam definition, loading and caching it on a miss.
// Redis failures fall back to the database.
func (s *ExamService) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	key := config.CacheKey.ExamDefinitionKey(examID.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var def model.ExamDefinition
		if jerr := json.Unmarshal(data, &def); jerr == nil {
			return &def, nil
		}
		s.log.Warn().Str("exam_id", examID.String()).Msg("Discarding unreadable cached exam definition")
	case errors.Is(err, redis.Nil):
	default:
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam cache read failed, using database")
	}

	return s.load(ctx, examID)
}

// Refresh reloads an exam definition into the cache.
func (s *ExamService) Refresh(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	return s.load(ctx, examID)
}

// PrewarmAllCaches loads every takeable exam into Redis on application startup
// so the first wave of attempts does not stampede the database.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	ids, err := s.loader.ListTakeableIDs(ctx)
	if err != nil {
		return fmt.Errorf("list takeable exams: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No takeable exams to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		if _, err := s.load(ctx, id); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", id.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Exam cache prewarm complete")
	return nil
}

func (s *ExamService) load(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	def, err := s.loader.GetDefinition(ctx, examID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if len(def.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	payload, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamDefinitionKey(examID.String()), payload, ExamDefinitionCacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Cache exam definition failed")
	}

	s.log.Debug().
		Str("exam_id", examID.String()).
		Int("questions", len(def.Questions)).
		Msg("Exam definition cached")
	return def, nil
}
