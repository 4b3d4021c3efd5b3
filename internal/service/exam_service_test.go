package service

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	defs  map[uuid.UUID]*model.ExamDefinition
	calls int
}

func (l *countingLoader) GetDefinition(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	l.calls++
	def, ok := l.defs[examID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return def, nil
}

func (l *countingLoader) ListTakeableIDs(context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(l.defs))
	for id := range l.defs {
		ids = append(ids, id)
	}
	return ids, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestExamService_ReadThrough(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	def := &model.ExamDefinition{
		ExamID:          uuid.New(),
		Title:           "Biologi Sel",
		Status:          model.ExamStatusPublished,
		DurationMinutes: 45,
		Questions:       []model.Question{{ID: uuid.New(), Type: model.QuestionTypeFreeResponse, OrderNum: 1}},
	}
	empty := &model.ExamDefinition{ExamID: uuid.New(), Status: model.ExamStatusPublished, DurationMinutes: 10}
	loader := &countingLoader{defs: map[uuid.UUID]*model.ExamDefinition{def.ExamID: def, empty.ExamID: empty}}
	t.Cleanup(func() {
		rdb.Del(ctx, config.CacheKey.ExamDefinitionKey(def.ExamID.String()))
	})

	svc := NewExamService(loader, rdb, testLogger())

	got, err := svc.GetDefinition(ctx, def.ExamID)
	require.NoError(t, err)
	assert.Equal(t, def.Title, got.Title)

	got, err = svc.GetDefinition(ctx, def.ExamID)
	require.NoError(t, err)
	assert.Equal(t, 45, got.DurationMinutes)
	assert.Equal(t, 1, loader.calls)

	_, err = svc.GetDefinition(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrExamNotFound)

	_, err = svc.GetDefinition(ctx, empty.ExamID)
	assert.ErrorIs(t, err, ErrNoQuestions)
}
