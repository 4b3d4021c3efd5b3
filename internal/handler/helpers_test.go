package handler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
)

type idleClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *idleClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *idleClock) NewTicker(time.Duration) attempt.Ticker { return idleTicker{} }

type idleTicker struct{}

func (idleTicker) C() <-chan time.Time { return nil }
func (idleTicker) Stop()               {}

type fixedExams struct {
	def *model.ExamDefinition
}

func (f *fixedExams) GetDefinition(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	if examID != f.def.ExamID {
		return nil, service.ErrExamNotFound
	}
	return f.def, nil
}

type mapLedger struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Attempt
	now  func() time.Time
}

func (l *mapLedger) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *row
	return &cp, nil
}

func (l *mapLedger) Ensure(_ context.Context, id, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok {
		row = &model.Attempt{ID: id, ExamID: examID, StudentID: studentID, Status: model.AttemptStatusInProgress, StartedAt: l.now()}
		l.rows[id] = row
	}
	if row.StudentID != studentID || row.ExamID != examID {
		return nil, repository.ErrAttemptTaken
	}
	cp := *row
	return &cp, nil
}

func (l *mapLedger) Submit(_ context.Context, req *model.SubmitRequest) (*model.AttemptReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := l.rows[req.AttemptID]
	if row.Status != model.AttemptStatusSubmitted {
		at, trigger := l.now(), req.Trigger
		row.Status, row.SubmittedAt, row.Trigger = model.AttemptStatusSubmitted, &at, &trigger
	}
	return &model.AttemptReceipt{AttemptID: row.ID, ExamID: row.ExamID, Status: row.Status, Trigger: *row.Trigger, SubmittedAt: *row.SubmittedAt}, nil
}

func (l *mapLedger) Receipt(_ context.Context, id uuid.UUID) (*model.AttemptReceipt, error) {
	l.mu.Lock()
	row, ok := l.rows[id]
	l.mu.Unlock()
	if !ok || row.Status != model.AttemptStatusSubmitted {
		return nil, pgx.ErrNoRows
	}
	return &model.AttemptReceipt{AttemptID: row.ID, ExamID: row.ExamID, Status: row.Status, Trigger: *row.Trigger, SubmittedAt: *row.SubmittedAt}, nil
}

type nopPublisher struct{}

func (nopPublisher) PublishViolation(context.Context, *model.ViolationEvent)         {}
func (nopPublisher) PublishDraft(context.Context, *model.DraftSnapshot)              {}
func (nopPublisher) PublishMonitor(context.Context, uuid.UUID, *model.MonitorEvent) {}

type handlerFixture struct {
	svc    *service.AttemptService
	def    *model.ExamDefinition
	q1, q2 uuid.UUID
	optA   uuid.UUID
}

func newHandlerFixture() *handlerFixture {
	clock := &idleClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	f := &handlerFixture{q1: uuid.New(), q2: uuid.New(), optA: uuid.New()}
	f.def = &model.ExamDefinition{
		ExamID:          uuid.New(),
		Title:           "Matematika Wajib",
		Status:          model.ExamStatusInProgress,
		DurationMinutes: 60,
		IsStrict:        true,
		Questions: []model.Question{
			{ID: f.q1, Type: model.QuestionTypeSingleChoice, OrderNum: 1, Options: []model.QuestionOption{{ID: f.optA, OrderNum: 1}}},
			{ID: f.q2, Type: model.QuestionTypeFreeResponse, OrderNum: 2},
		},
	}
	ledger := &mapLedger{rows: make(map[uuid.UUID]*model.Attempt), now: clock.Now}
	f.svc = service.NewAttemptService(ledger, &fixedExams{def: f.def}, attempt.NewMemoryStore(), nopPublisher{}, attempt.Options{
		Threshold: 3,
		Clock:     clock,
	}, zerolog.Nop())
	return f
}

// asStudent stands in for the JWT middleware.
func asStudent(id int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: id})
		c.Next()
	}
}

// studentFromQuery reads the student id from ?student= for WebSocket tests.
func studentFromQuery(c *gin.Context) {
	id, _ := strconv.Atoi(c.Query("student"))
	c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: id})
	c.Next()
}
