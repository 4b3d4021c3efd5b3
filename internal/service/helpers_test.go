package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

var testEpoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// manualClock never ticks on its own; countdowns only advance on resync.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) NewTicker(time.Duration) attempt.Ticker { return idleTicker{} }

type idleTicker struct{}

func (idleTicker) C() <-chan time.Time { return nil }
func (idleTicker) Stop()               {}

type staticExams struct {
	defs map[uuid.UUID]*model.ExamDefinition
}

func (s *staticExams) GetDefinition(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	def, ok := s.defs[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	return def, nil
}

type memLedger struct {
	mu       sync.Mutex
	clock    *manualClock
	rows     map[uuid.UUID]*model.Attempt
	requests []*model.SubmitRequest
	fail     error

	// When gate is set, Submit signals entered and blocks until gate closes.
	entered chan struct{}
	gate    chan struct{}
}

func newMemLedger(clock *manualClock) *memLedger {
	return &memLedger{clock: clock, rows: make(map[uuid.UUID]*model.Attempt)}
}

func (l *memLedger) GetByID(_ context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[attemptID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *row
	return &cp, nil
}

func (l *memLedger) Ensure(_ context.Context, attemptID, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[attemptID]
	if !ok {
		row = &model.Attempt{
			ID:        attemptID,
			ExamID:    examID,
			StudentID: studentID,
			Status:    model.AttemptStatusInProgress,
			StartedAt: l.clock.Now(),
		}
		l.rows[attemptID] = row
	}
	if row.ExamID != examID || row.StudentID != studentID {
		return nil, repository.ErrAttemptTaken
	}
	cp := *row
	return &cp, nil
}

func (l *memLedger) Submit(_ context.Context, req *model.SubmitRequest) (*model.AttemptReceipt, error) {
	l.mu.Lock()
	entered, gate := l.entered, l.gate
	l.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	row, ok := l.rows[req.AttemptID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	l.requests = append(l.requests, req)
	if row.Status != model.AttemptStatusSubmitted {
		at := l.clock.Now()
		trigger := req.Trigger
		row.Status = model.AttemptStatusSubmitted
		row.SubmittedAt = &at
		row.Trigger = &trigger
	}
	return l.receiptLocked(row), nil
}

func (l *memLedger) Receipt(_ context.Context, attemptID uuid.UUID) (*model.AttemptReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[attemptID]
	if !ok || row.Status != model.AttemptStatusSubmitted {
		return nil, pgx.ErrNoRows
	}
	return l.receiptLocked(row), nil
}

func (l *memLedger) receiptLocked(row *model.Attempt) *model.AttemptReceipt {
	return &model.AttemptReceipt{
		AttemptID:   row.ID,
		ExamID:      row.ExamID,
		Status:      row.Status,
		Trigger:     *row.Trigger,
		SubmittedAt: *row.SubmittedAt,
	}
}

func (l *memLedger) Requests() []*model.SubmitRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.SubmitRequest(nil), l.requests...)
}

type recordingPublisher struct {
	mu         sync.Mutex
	violations []*model.ViolationEvent
	drafts     []*model.DraftSnapshot
	monitor    []*model.MonitorEvent
}

func (p *recordingPublisher) PublishViolation(_ context.Context, ev *model.ViolationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.violations = append(p.violations, ev)
}

func (p *recordingPublisher) PublishDraft(_ context.Context, snap *model.DraftSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drafts = append(p.drafts, snap)
}

func (p *recordingPublisher) PublishMonitor(_ context.Context, _ uuid.UUID, ev *model.MonitorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitor = append(p.monitor, ev)
}

func (p *recordingPublisher) MonitorTypes() []model.MonitorEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]model.MonitorEventType, 0, len(p.monitor))
	for _, ev := range p.monitor {
		types = append(types, ev.Type)
	}
	return types
}

func (p *recordingPublisher) Counts() (violations, drafts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.violations), len(p.drafts)
}

type recordingStream struct {
	mu        sync.Mutex
	ticks     []int
	warnings  []int
	breached  []int
	submitted []*model.AttemptReceipt
	failures  []error
}

func (s *recordingStream) Tick(remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, remaining)
}

func (s *recordingStream) Warning(count, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, count)
}

func (s *recordingStream) Breached(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breached = append(s.breached, count)
}

func (s *recordingStream) Suppressed(attempt.SignalKind) {}

func (s *recordingStream) Submitted(receipt *model.AttemptReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, receipt)
}

func (s *recordingStream) SubmitFailed(_ model.SubmitTrigger, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

func (s *recordingStream) Snapshot() (ticks, warnings, breached []int, submitted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.ticks...),
		append([]int(nil), s.warnings...),
		append([]int(nil), s.breached...),
		len(s.submitted)
}

var errLedgerDown = errors.New("ledger unavailable")

type serviceFixture struct {
	svc       *AttemptService
	clock     *manualClock
	store     *attempt.MemoryStore
	ledger    *memLedger
	publisher *recordingPublisher
	exams     *staticExams
	def       *model.ExamDefinition
	q1, q2    uuid.UUID
	optA      uuid.UUID
}

func newServiceFixture() *serviceFixture {
	clock := &manualClock{now: testEpoch}
	f := &serviceFixture{
		clock:     clock,
		store:     attempt.NewMemoryStore(),
		ledger:    newMemLedger(clock),
		publisher: &recordingPublisher{},
		q1:        uuid.New(),
		q2:        uuid.New(),
		optA:      uuid.New(),
	}
	f.def = &model.ExamDefinition{
		ExamID:          uuid.New(),
		Title:           "Kimia Organik",
		Status:          model.ExamStatusPublished,
		DurationMinutes: 30,
		IsStrict:        true,
		Questions: []model.Question{
			{ID: f.q1, Type: model.QuestionTypeSingleChoice, OrderNum: 1, Options: []model.QuestionOption{{ID: f.optA, OrderNum: 1}}},
			{ID: f.q2, Type: model.QuestionTypeFreeResponse, OrderNum: 2},
		},
	}
	f.exams = &staticExams{defs: map[uuid.UUID]*model.ExamDefinition{f.def.ExamID: f.def}}
	f.svc = NewAttemptService(f.ledger, f.exams, f.store, f.publisher, attempt.Options{
		Threshold:    3,
		TickInterval: time.Second,
		Clock:        clock,
	}, testLogger())
	return f
}
