package attempt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var testEpoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// Tick delivers one tick to every live ticker.
func (c *fakeClock) Tick() {
	c.mu.Lock()
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()
	for _, t := range tickers {
		if t.stopped.Load() {
			continue
		}
		select {
		case t.ch <- now:
		default:
		}
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type fakeExams struct {
	def   *model.ExamDefinition
	err   error
	calls atomic.Int32
}

func (f *fakeExams) GetDefinition(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if examID != f.def.ExamID {
		return nil, errors.New("exam not found")
	}
	return f.def, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []*model.SubmitRequest
	failNext int
	release  chan struct{}
	entered  chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, req *model.SubmitRequest) (*model.AttemptReceipt, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("exam service unavailable")
	}
	return &model.AttemptReceipt{
		AttemptID:   req.AttemptID,
		Status:      model.AttemptStatusSubmitted,
		Trigger:     req.Trigger,
		SubmittedAt: testEpoch,
	}, nil
}

func (f *fakeSubmitter) Requests() []*model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.SubmitRequest(nil), f.requests...)
}

// fixture is a three-question strict exam: q1 single-choice, q2 free-response, q3 single-choice.
type fixture struct {
	def       *model.ExamDefinition
	q1, q2    uuid.UUID
	q3        uuid.UUID
	optA      uuid.UUID
	optB      uuid.UUID
	optC      uuid.UUID
	attemptID uuid.UUID
	clock     *fakeClock
	store     *MemoryStore
	exams     *fakeExams
	submitter *fakeSubmitter
}

func newFixture() *fixture {
	f := &fixture{
		q1:        uuid.New(),
		q2:        uuid.New(),
		q3:        uuid.New(),
		optA:      uuid.New(),
		optB:      uuid.New(),
		optC:      uuid.New(),
		attemptID: uuid.New(),
		clock:     newFakeClock(),
		store:     NewMemoryStore(),
		submitter: &fakeSubmitter{},
	}
	f.def = &model.ExamDefinition{
		ExamID:          uuid.New(),
		Title:           "Fisika Dasar",
		Status:          model.ExamStatusPublished,
		DurationMinutes: 30,
		IsStrict:        true,
		Questions: []model.Question{
			{ID: f.q1, Type: model.QuestionTypeSingleChoice, MaxScore: 1, OrderNum: 1, Options: []model.QuestionOption{{ID: f.optA, OrderNum: 1}, {ID: f.optC, OrderNum: 2}}},
			{ID: f.q2, Type: model.QuestionTypeFreeResponse, MaxScore: 5, OrderNum: 2},
			{ID: f.q3, Type: model.QuestionTypeSingleChoice, MaxScore: 1, OrderNum: 3, Options: []model.QuestionOption{{ID: f.optB, OrderNum: 1}}},
		},
	}
	f.exams = &fakeExams{def: f.def}
	return f
}

func (f *fixture) deps() Deps {
	return Deps{Store: f.store, Exams: f.exams, Submitter: f.submitter, Log: zerolog.Nop()}
}

func (f *fixture) opts() Options {
	return Options{Threshold: 3, TickInterval: time.Second, Clock: f.clock}
}

func (f *fixture) open(events Events) (*Controller, error) {
	return Open(context.Background(), f.attemptID, f.def.ExamID, f.deps(), f.opts(), events)
}

func ptr[T any](v T) *T { return &v }
