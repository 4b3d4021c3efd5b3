package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ExamSource loads exam definitions from the exam service.
type ExamSource interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// Deps are the external collaborators of a controller.
type Deps struct {
	Store     Store
	Exams     ExamSource
	Submitter Submitter
	Log       zerolog.Logger
}

// Options tune a controller. Zero values fall back to defaults.
type Options struct {
	Threshold       int
	TickInterval    time.Duration
	SubmitTimeout   time.Duration
	EmptyTextMarker string
	CountPaste      bool
	Clock           Clock
}

// Events are the controller's outputs towards the test-taker. Hooks run on
// controller goroutines and must not block for long. Any hook may be nil.
type Events struct {
	OnTick         func(remaining int)
	OnWarning      func(count, threshold int)
	OnBreached     func(count int)
	OnSuppressed   func(kind SignalKind)
	OnSubmitted    func(receipt *model.AttemptReceipt)
	OnSubmitFailed func(trigger model.SubmitTrigger, err error)
}

// Controller runs one live attempt: countdown, integrity monitor, answer
// cache and submission guard, all backed by the same persisted record.
type Controller struct {
	attemptID uuid.UUID
	def       *model.ExamDefinition
	deadline  int64
	threshold int
	clock     Clock
	log       zerolog.Logger

	reconciler *Reconciler
	cache      *AnswerCache
	monitor    *Monitor
	guard      *Guard
	scheduler  *Scheduler

	mu     sync.RWMutex
	events Events
	closed bool
}

// Open bootstraps the controller for attemptID. It fails with
// ErrExamUnavailable when the exam definition cannot be loaded, in which case
// nothing is persisted. If the deadline has already passed the attempt is
// submitted before Open returns and the countdown is never started.
func Open(ctx context.Context, attemptID, examID uuid.UUID, deps Deps, opts Options, events Events) (*Controller, error) {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}

	def, err := deps.Exams.GetDefinition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExamUnavailable, err)
	}

	log := deps.Log.With().
		Str("attempt_id", attemptID.String()).
		Str("exam_id", examID.String()).
		Logger()

	reconciler := NewReconciler(deps.Store, opts.Clock, log)
	rec, _, err := reconciler.Reconcile(ctx, attemptID, def)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		attemptID:  attemptID,
		def:        def,
		deadline:   rec.AbsoluteDeadline,
		threshold:  opts.Threshold,
		clock:      opts.Clock,
		log:        log,
		reconciler: reconciler,
		events:     events,
	}

	c.cache = NewAnswerCache(attemptID, deps.Store, def, rec.Answers, opts.EmptyTextMarker)
	c.guard = NewGuard(attemptID, def.Questions, c.cache, deps.Store, deps.Submitter, opts.SubmitTimeout, GuardHooks{
		OnSubmitted:    c.handleSubmitted,
		OnSubmitFailed: c.handleSubmitFailed,
	}, log)
	c.scheduler = NewScheduler(opts.Clock, opts.TickInterval, rec.AbsoluteDeadline, c.handleTick, func() {
		c.trigger(model.TriggerExpired)
	})
	c.monitor = NewMonitor(attemptID, deps.Store, MonitorConfig{
		Threshold:  opts.Threshold,
		Strict:     def.IsStrict,
		CountPaste: opts.CountPaste,
	}, rec.ViolationCount, MonitorHooks{
		OnViolation:    c.handleViolation,
		OnLimitReached: c.handleLimitReached,
		OnSuppressed:   c.handleSuppressed,
		OnReturn:       c.scheduler.Resync,
	}, log)

	if reconciler.Remaining(rec) <= 0 {
		log.Info().Msg("Deadline passed before load, forcing submission")
		c.trigger(model.TriggerExpired)
		return c, nil
	}

	if c.monitor.State() == MonitorBreached {
		log.Info().Int("violations", rec.ViolationCount).Msg("Violation limit already reached, forcing submission")
		c.trigger(model.TriggerViolationLimit)
		return c, nil
	}

	c.scheduler.Start()
	return c, nil
}

// AttemptID returns the attempt identifier.
func (c *Controller) AttemptID() uuid.UUID { return c.attemptID }

// ExamID returns the exam identifier.
func (c *Controller) ExamID() uuid.UUID { return c.def.ExamID }

// Definition returns the exam definition the attempt was opened against.
func (c *Controller) Definition() *model.ExamDefinition { return c.def }

// Deadline returns the absolute deadline in epoch milliseconds.
func (c *Controller) Deadline() int64 { return c.deadline }

// Remaining returns the seconds left, derived from the wall clock.
func (c *Controller) Remaining() int { return RemainingSeconds(c.deadline, c.clock.Now()) }

// Submitted reports whether the attempt was handed to the exam service.
func (c *Controller) Submitted() bool { return c.guard.Submitted() }

// Violations returns the current violation count.
func (c *Controller) Violations() int { return c.monitor.Count() }

// MonitorState returns the integrity state.
func (c *Controller) MonitorState() MonitorState { return c.monitor.State() }

// State returns a snapshot for a reloading client.
func (c *Controller) State() *model.AttemptState {
	return &model.AttemptState{
		AttemptID:        c.attemptID,
		ExamID:           c.def.ExamID,
		AbsoluteDeadline: c.deadline,
		RemainingSeconds: c.Remaining(),
		ViolationCount:   c.monitor.Count(),
		Threshold:        c.threshold,
		IsStrict:         c.def.IsStrict,
		Answers:          c.cache.Drafts(),
	}
}

// HandleSignal feeds one page signal to the integrity monitor.
func (c *Controller) HandleSignal(ctx context.Context, kind SignalKind) SignalOutcome {
	if c.isClosed() || c.guard.Submitted() {
		return SignalOutcome{Count: c.monitor.Count()}
	}
	return c.monitor.Handle(ctx, kind)
}

// SetAnswer caches and persists one draft.
func (c *Controller) SetAnswer(ctx context.Context, questionID uuid.UUID, draft model.AnswerDraft) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.cache.SetAnswer(ctx, questionID, draft)
}

// Submit fires the submission guard for trigger.
func (c *Controller) Submit(ctx context.Context, trigger model.SubmitTrigger) (*model.AttemptReceipt, error) {
	return c.guard.Fire(ctx, trigger)
}

// Resume attaches a new event sink, e.g. after the client reconnected, and
// resynchronises the countdown. A reconnect past the deadline submits.
func (c *Controller) Resume(events Events) {
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()

	if c.guard.Submitted() {
		return
	}
	if c.Remaining() <= 0 {
		c.trigger(model.TriggerReconnect)
		return
	}
	c.scheduler.Resync()
}

// Close tears the controller down. The persisted record is kept so the
// attempt can be resumed later.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.scheduler.Stop()
	c.monitor.Detach()
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Controller) sink() Events {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events
}

func (c *Controller) trigger(t model.SubmitTrigger) {
	_, err := c.guard.Fire(context.Background(), t)
	if err != nil && !errors.Is(err, ErrSubmissionPending) && !errors.Is(err, ErrAlreadySubmitted) {
		c.log.Warn().Err(err).Str("trigger", string(t)).Msg("Forced submission did not complete")
	}
}

func (c *Controller) handleTick(remaining int) {
	if fn := c.sink().OnTick; fn != nil {
		fn(remaining)
	}
}

func (c *Controller) handleViolation(count int) {
	c.log.Info().Int("violations", count).Msg("Integrity violation")
	if fn := c.sink().OnWarning; fn != nil {
		fn(count, c.threshold)
	}
}

func (c *Controller) handleLimitReached(count int) {
	c.log.Warn().Int("violations", count).Msg("Violation limit reached")
	if fn := c.sink().OnBreached; fn != nil {
		fn(count)
	}
	c.trigger(model.TriggerViolationLimit)
}

func (c *Controller) handleSuppressed(kind SignalKind) {
	if fn := c.sink().OnSuppressed; fn != nil {
		fn(kind)
	}
}

func (c *Controller) handleSubmitted(receipt *model.AttemptReceipt) {
	c.scheduler.Stop()
	c.monitor.Detach()
	if fn := c.sink().OnSubmitted; fn != nil {
		fn(receipt)
	}
}

func (c *Controller) handleSubmitFailed(trigger model.SubmitTrigger, err error) {
	if fn := c.sink().OnSubmitFailed; fn != nil {
		fn(trigger, err)
	}
}
