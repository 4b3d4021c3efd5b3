package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// Domain Errors
var (
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrAttemptForbidden  = errors.New("attempt belongs to another student")
	ErrAttemptSubmitted  = errors.New("attempt already submitted")
	ErrAttemptInProgress = errors.New("attempt has not been submitted yet")
	ErrServiceClosed     = errors.New("attempt service is shutting down")
)

// maxAttachRetries bounds how often Attach chases a controller that is being
// retired by a concurrent disconnect.
const maxAttachRetries = 3

// AttemptLedger is the durable attempt table of the exam service.
type AttemptLedger interface {
	attempt.Submitter
	GetByID(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
	Ensure(ctx context.Context, attemptID, examID uuid.UUID, studentID int) (*model.Attempt, error)
	Receipt(ctx context.Context, attemptID uuid.UUID) (*model.AttemptReceipt, error)
}

// AttemptStream receives controller events for one connected client.
// Implementations must be safe for concurrent use.
type AttemptStream interface {
	Tick(remaining int)
	Warning(count, threshold int)
	Breached(count int)
	Suppressed(kind attempt.SignalKind)
	Submitted(receipt *model.AttemptReceipt)
	SubmitFailed(trigger model.SubmitTrigger, err error)
}

// liveAttempt is one registry slot. ready is closed once Open has finished,
// after which ctrl and err are immutable.
type liveAttempt struct {
	attemptID uuid.UUID
	examID    uuid.UUID
	studentID int

	ready chan struct{}
	ctrl  *attempt.Controller
	err   error

	mu      sync.Mutex
	stream  AttemptStream
	token   uint64
	retired bool
}

func (e *liveAttempt) current() AttemptStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream
}

func (e *liveAttempt) attach(stream AttemptStream) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired {
		return 0, false
	}
	e.token++
	e.stream = stream
	return e.token, true
}

// release unbinds the stream if token is still the latest one and reports
// whether the entry was retired as a result.
func (e *liveAttempt) release(token uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired || e.token != token {
		return false
	}
	e.stream = nil
	e.retired = true
	return true
}

func (e *liveAttempt) retire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired {
		return false
	}
	e.retired = true
	e.stream = nil
	return true
}

// AttemptService owns the live attempt controllers of this process, at most
// one per attempt, and wires their side effects to queues and proctors.
type AttemptService struct {
	ledger    AttemptLedger
	exams     attempt.ExamSource
	store     attempt.Store
	publisher EventPublisher
	opts      attempt.Options
	log       zerolog.Logger

	mu     sync.Mutex
	live   map[uuid.UUID]*liveAttempt
	closed bool
	wg     sync.WaitGroup
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(ledger AttemptLedger, exams attempt.ExamSource, store attempt.Store, publisher EventPublisher, opts attempt.Options, log zerolog.Logger) *AttemptService {
	if opts.Clock == nil {
		opts.Clock = attempt.SystemClock
	}
	return &AttemptService{
		ledger:    ledger,
		exams:     exams,
		store:     store,
		publisher: publisher,
		opts:      opts,
		log:       log.With().Str("component", "attempt_service").Logger(),
		live:      make(map[uuid.UUID]*liveAttempt),
	}
}

// Open starts or resumes attemptID for the student and returns what the
// client needs to render it. The attempt row is claimed on first open.
func (s *AttemptService) Open(ctx context.Context, studentID int, attemptID, examID uuid.UUID) (*model.AttemptView, error) {
	def, err := s.exams.GetDefinition(ctx, examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) || errors.Is(err, ErrNoQuestions) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", attempt.ErrExamUnavailable, err)
	}
	if !def.Status.Takeable() {
		return nil, ErrExamNotTakeable
	}

	row, err := s.ledger.Ensure(ctx, attemptID, examID, studentID)
	if errors.Is(err, repository.ErrAttemptTaken) {
		return nil, ErrAttemptForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("claim attempt: %w", err)
	}
	if row.Status == model.AttemptStatusSubmitted {
		return nil, ErrAttemptSubmitted
	}

	e, created, err := s.acquire(ctx, attemptID, examID, studentID)
	if err != nil {
		return nil, err
	}

	if created {
		s.publisher.PublishMonitor(ctx, examID, &model.MonitorEvent{
			Type:      model.MonitorEventOpened,
			AttemptID: attemptID,
			StudentID: studentID,
			Count:     e.ctrl.Violations(),
			At:        s.opts.Clock.Now().UnixMilli(),
		})
	}

	return &model.AttemptView{State: e.ctrl.State(), Exam: e.ctrl.Definition()}, nil
}

// State returns the restorable state of an open attempt.
func (s *AttemptService) State(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.AttemptState, error) {
	e, err := s.lookup(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	return e.ctrl.State(), nil
}

// SaveAnswer caches one answer draft.
func (s *AttemptService) SaveAnswer(ctx context.Context, studentID int, attemptID, questionID uuid.UUID, draft model.AnswerDraft) error {
	e, err := s.lookup(ctx, studentID, attemptID)
	if err != nil {
		return err
	}
	return s.saveAnswer(ctx, e, questionID, draft)
}

// Submit hands the attempt in on the student's request.
func (s *AttemptService) Submit(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.AttemptReceipt, error) {
	e, err := s.lookup(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	return e.ctrl.Submit(ctx, model.TriggerManual)
}

// Result returns the submission receipt of a finished attempt.
func (s *AttemptService) Result(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.AttemptReceipt, error) {
	row, err := s.owned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	if row.Status != model.AttemptStatusSubmitted {
		return nil, ErrAttemptInProgress
	}
	return s.ledger.Receipt(ctx, attemptID)
}

// Attach binds a client stream to the attempt, replacing any earlier stream,
// and resynchronises the countdown. Reattaching past the deadline submits.
func (s *AttemptService) Attach(ctx context.Context, studentID int, attemptID uuid.UUID, stream AttemptStream) (*AttemptSession, error) {
	for i := 0; i < maxAttachRetries; i++ {
		e, err := s.lookup(ctx, studentID, attemptID)
		if err != nil {
			return nil, err
		}
		token, ok := e.attach(stream)
		if !ok {
			continue
		}
		e.ctrl.Resume(s.eventsFor(e))
		return &AttemptSession{svc: s, entry: e, token: token}, nil
	}
	return nil, fmt.Errorf("attach attempt %s: controller kept retiring", attemptID)
}

// ForceExpire submits an attempt whose deadline has passed and reports whether
// it did. It is used by the sweeper for attempts nobody is connected to. A
// live controller is always preferred so its cached answers are handed in.
func (s *AttemptService) ForceExpire(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	row, err := s.ledger.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrAttemptNotFound
	}
	if err != nil {
		return false, fmt.Errorf("get attempt: %w", err)
	}
	if row.Status == model.AttemptStatusSubmitted {
		return false, s.store.Delete(ctx, attemptID)
	}

	s.mu.Lock()
	_, live := s.live[attemptID]
	s.mu.Unlock()

	if !live {
		if _, err := s.store.Get(ctx, attemptID); err != nil {
			if !errors.Is(err, attempt.ErrRecordNotFound) && !errors.Is(err, attempt.ErrCorruptRecord) {
				return false, err
			}
			return s.expireOrphan(ctx, row, err)
		}
	}

	e, _, err := s.acquire(ctx, attemptID, row.ExamID, row.StudentID)
	if errors.Is(err, ErrAttemptSubmitted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if e.ctrl.Remaining() > 0 {
		return false, nil
	}

	_, err = e.ctrl.Submit(ctx, model.TriggerExpired)
	if errors.Is(err, attempt.ErrAlreadySubmitted) || errors.Is(err, attempt.ErrSubmissionPending) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// expireOrphan submits an overdue attempt whose record is gone. The deadline
// falls back to the ledger's start time and every question is handed in with
// its default answer. The registry slot is held meanwhile so a student
// reopening the attempt waits for the outcome.
func (s *AttemptService) expireOrphan(ctx context.Context, row *model.Attempt, cause error) (bool, error) {
	def, err := s.exams.GetDefinition(ctx, row.ExamID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", attempt.ErrExamUnavailable, err)
	}
	deadline := row.StartedAt.Add(time.Duration(def.DurationMinutes) * time.Minute)
	if s.opts.Clock.Now().Before(deadline) {
		return false, nil
	}

	e := &liveAttempt{
		attemptID: row.ID,
		examID:    row.ExamID,
		studentID: row.StudentID,
		ready:     make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrServiceClosed
	}
	if _, ok := s.live[row.ID]; ok {
		// Reopened in the meantime; the next sweep sees its record.
		s.mu.Unlock()
		return false, nil
	}
	s.live[row.ID] = e
	s.mu.Unlock()

	log := s.log.With().Str("attempt_id", row.ID.String()).Logger()
	log.Warn().Err(cause).Msg("Attempt record lost, submitting default answers")

	events := s.eventsFor(e)
	cache := attempt.NewAnswerCache(row.ID, s.store, def, nil, s.opts.EmptyTextMarker)
	guard := attempt.NewGuard(row.ID, def.Questions, cache, s.store, s.ledger, s.opts.SubmitTimeout, attempt.GuardHooks{
		OnSubmitted:    events.OnSubmitted,
		OnSubmitFailed: events.OnSubmitFailed,
	}, log)

	_, err = guard.Fire(ctx, model.TriggerExpired)
	if err != nil {
		e.err = err
	} else {
		e.err = ErrAttemptSubmitted
	}
	close(e.ready)
	s.forget(e)

	if err != nil {
		return false, err
	}
	return true, nil
}

// Live returns the number of live controllers.
func (s *AttemptService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown closes every live controller. Records are kept so attempts resume
// on the next process.
func (s *AttemptService) Shutdown() {
	s.mu.Lock()
	s.closed = true
	entries := make([]*liveAttempt, 0, len(s.live))
	for _, e := range s.live {
		entries = append(entries, e)
	}
	s.live = make(map[uuid.UUID]*liveAttempt)
	s.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		e.retire()
		if e.ctrl != nil {
			e.ctrl.Close()
		}
	}
	s.wg.Wait()
	s.log.Info().Int("closed", len(entries)).Msg("Attempt controllers closed")
}

func (s *AttemptService) owned(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	row, err := s.ledger.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if row.StudentID != studentID {
		return nil, ErrAttemptForbidden
	}
	return row, nil
}

// lookup returns the live controller of an attempt the student owns, opening
// one if this process has none.
func (s *AttemptService) lookup(ctx context.Context, studentID int, attemptID uuid.UUID) (*liveAttempt, error) {
	s.mu.Lock()
	e, ok := s.live[attemptID]
	s.mu.Unlock()
	if ok {
		if e.studentID != studentID {
			return nil, ErrAttemptForbidden
		}
		e, _, err := s.acquire(ctx, attemptID, e.examID, studentID)
		return e, err
	}

	row, err := s.owned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	if row.Status == model.AttemptStatusSubmitted {
		return nil, ErrAttemptSubmitted
	}
	e, _, err = s.acquire(ctx, attemptID, row.ExamID, studentID)
	return e, err
}

// acquire returns the registry slot for attemptID, opening the controller if
// needed. Concurrent callers share one Open.
func (s *AttemptService) acquire(ctx context.Context, attemptID, examID uuid.UUID, studentID int) (*liveAttempt, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrServiceClosed
	}
	if e, ok := s.live[attemptID]; ok {
		s.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if e.err != nil {
			return nil, false, e.err
		}
		if e.studentID != studentID {
			return nil, false, ErrAttemptForbidden
		}
		if e.examID != examID {
			return nil, false, attempt.ErrExamMismatch
		}
		if e.ctrl.Submitted() {
			return nil, false, ErrAttemptSubmitted
		}
		return e, false, nil
	}

	e := &liveAttempt{
		attemptID: attemptID,
		examID:    examID,
		studentID: studentID,
		ready:     make(chan struct{}),
	}
	s.live[attemptID] = e
	s.mu.Unlock()

	ctrl, err := attempt.Open(ctx, attemptID, examID, attempt.Deps{
		Store:     s.store,
		Exams:     s.exams,
		Submitter: s.ledger,
		Log:       s.log,
	}, s.opts, s.eventsFor(e))
	e.ctrl, e.err = ctrl, err
	close(e.ready)

	if err != nil {
		s.forget(e)
		return nil, false, err
	}
	if ctrl.Submitted() {
		return nil, false, ErrAttemptSubmitted
	}
	return e, true, nil
}

func (s *AttemptService) forget(e *liveAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[e.attemptID] == e {
		delete(s.live, e.attemptID)
	}
}

// retireAsync drops a submitted controller once its Open has returned. It runs
// off the submitting goroutine because the hook fires inside the guard.
func (s *AttemptService) retireAsync(e *liveAttempt) {
	s.mu.Lock()
	if s.closed {
		// Shutdown already owns every registered controller.
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		<-e.ready
		e.retire()
		s.forget(e)
		if e.ctrl != nil {
			e.ctrl.Close()
		}
	}()
}

func (s *AttemptService) detach(e *liveAttempt, token uint64) {
	if !e.release(token) {
		return
	}
	s.forget(e)
	e.ctrl.Close()
	s.log.Debug().Str("attempt_id", e.attemptID.String()).Msg("Stream detached, controller closed")
}

func (s *AttemptService) saveAnswer(ctx context.Context, e *liveAttempt, questionID uuid.UUID, draft model.AnswerDraft) error {
	if err := e.ctrl.SetAnswer(ctx, questionID, draft); err != nil {
		return err
	}
	s.publisher.PublishDraft(ctx, &model.DraftSnapshot{
		AttemptID:        e.attemptID,
		QuestionID:       questionID,
		SelectedOptionID: draft.SelectedOptionID,
		TextAnswer:       draft.TextAnswer,
		SavedAt:          s.opts.Clock.Now().UnixMilli(),
	})
	return nil
}

func (s *AttemptService) signal(ctx context.Context, e *liveAttempt, kind attempt.SignalKind) attempt.SignalOutcome {
	out := e.ctrl.HandleSignal(ctx, kind)
	if out.Counted {
		s.publisher.PublishViolation(ctx, &model.ViolationEvent{
			AttemptID:  e.attemptID,
			ExamID:     e.examID,
			StudentID:  e.studentID,
			Kind:       string(kind),
			Count:      out.Count,
			OccurredAt: s.opts.Clock.Now().UnixMilli(),
		})
	}
	return out
}

func (s *AttemptService) eventsFor(e *liveAttempt) attempt.Events {
	return attempt.Events{
		OnTick: func(remaining int) {
			if st := e.current(); st != nil {
				st.Tick(remaining)
			}
		},
		OnWarning: func(count, threshold int) {
			if st := e.current(); st != nil {
				st.Warning(count, threshold)
			}
		},
		OnBreached: func(count int) {
			if st := e.current(); st != nil {
				st.Breached(count)
			}
		},
		OnSuppressed: func(kind attempt.SignalKind) {
			if st := e.current(); st != nil {
				st.Suppressed(kind)
			}
		},
		OnSubmitted: func(receipt *model.AttemptReceipt) {
			s.publisher.PublishMonitor(context.Background(), e.examID, &model.MonitorEvent{
				Type:      model.MonitorEventSubmitted,
				AttemptID: e.attemptID,
				StudentID: e.studentID,
				Trigger:   receipt.Trigger,
				At:        receipt.SubmittedAt.UnixMilli(),
			})
			if st := e.current(); st != nil {
				st.Submitted(receipt)
			}
			s.retireAsync(e)
		},
		OnSubmitFailed: func(trigger model.SubmitTrigger, err error) {
			if st := e.current(); st != nil {
				st.SubmitFailed(trigger, err)
			}
		},
	}
}

// AttemptSession is one client stream bound to a live attempt.
type AttemptSession struct {
	svc   *AttemptService
	entry *liveAttempt
	token uint64
}

// AttemptID returns the attempt the session is bound to.
func (a *AttemptSession) AttemptID() uuid.UUID { return a.entry.attemptID }

// State returns the restorable attempt state.
func (a *AttemptSession) State() *model.AttemptState { return a.entry.ctrl.State() }

// Signal feeds one page signal to the integrity monitor.
func (a *AttemptSession) Signal(ctx context.Context, kind attempt.SignalKind) attempt.SignalOutcome {
	return a.svc.signal(ctx, a.entry, kind)
}

// SaveAnswer caches one answer draft.
func (a *AttemptSession) SaveAnswer(ctx context.Context, questionID uuid.UUID, draft model.AnswerDraft) error {
	return a.svc.saveAnswer(ctx, a.entry, questionID, draft)
}

// Submit hands the attempt in on the student's request.
func (a *AttemptSession) Submit(ctx context.Context) (*model.AttemptReceipt, error) {
	return a.entry.ctrl.Submit(ctx, model.TriggerManual)
}

// Close unbinds the stream. The controller is torn down unless a newer
// stream has taken over; the persisted record is kept either way.
func (a *AttemptSession) Close() {
	a.svc.detach(a.entry, a.token)
}
