package attempt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Submitter hands a finished attempt to the exam service.
type Submitter interface {
	Submit(ctx context.Context, req *model.SubmitRequest) (*model.AttemptReceipt, error)
}

// Latch is a one-shot gate tagged with the trigger that closed it.
// The first TryFire wins; every later call fails until Rearm.
type Latch struct {
	fired atomic.Pointer[model.SubmitTrigger]
}

// TryFire closes the latch for t. It reports false if the latch was already closed.
func (l *Latch) TryFire(t model.SubmitTrigger) bool {
	return l.fired.CompareAndSwap(nil, &t)
}

// Rearm opens the latch again.
func (l *Latch) Rearm() { l.fired.Store(nil) }

// Fired returns the winning trigger, if any.
func (l *Latch) Fired() (model.SubmitTrigger, bool) {
	t := l.fired.Load()
	if t == nil {
		return "", false
	}
	return *t, true
}

// GuardHooks are notified of submission outcomes. Any hook may be nil.
type GuardHooks struct {
	OnSubmitted    func(receipt *model.AttemptReceipt)
	OnSubmitFailed func(trigger model.SubmitTrigger, err error)
}

// Guard is the only path to the submission endpoint. It guarantees that at
// most one submission is in flight and that a successful one is never repeated.
type Guard struct {
	attemptID uuid.UUID
	questions []model.Question
	cache     *AnswerCache
	store     Store
	submitter Submitter
	timeout   time.Duration
	hooks     GuardHooks
	log       zerolog.Logger

	latch     Latch
	submitted atomic.Bool
}

// NewGuard creates a Guard for one attempt.
func NewGuard(attemptID uuid.UUID, questions []model.Question, cache *AnswerCache, store Store, submitter Submitter, timeout time.Duration, hooks GuardHooks, log zerolog.Logger) *Guard {
	return &Guard{
		attemptID: attemptID,
		questions: questions,
		cache:     cache,
		store:     store,
		submitter: submitter,
		timeout:   timeout,
		hooks:     hooks,
		log:       log,
	}
}

// Submitted reports whether the attempt has been handed over successfully.
func (g *Guard) Submitted() bool { return g.submitted.Load() }

// Pending reports whether a submission currently holds the latch.
func (g *Guard) Pending() bool {
	_, fired := g.latch.Fired()
	return fired && !g.submitted.Load()
}

// Fire submits the attempt on behalf of trigger. If another trigger already
// holds the latch it returns ErrSubmissionPending or ErrAlreadySubmitted
// without doing anything.
func (g *Guard) Fire(ctx context.Context, trigger model.SubmitTrigger) (*model.AttemptReceipt, error) {
	if !g.latch.TryFire(trigger) {
		if g.submitted.Load() {
			return nil, ErrAlreadySubmitted
		}
		return nil, ErrSubmissionPending
	}

	log := g.log.With().Str("trigger", string(trigger)).Logger()
	log.Info().Msg("Submitting attempt")

	req := &model.SubmitRequest{
		AttemptID: g.attemptID,
		Trigger:   trigger,
		Answers:   g.cache.Freeze(g.questions),
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	receipt, err := g.submitter.Submit(ctx, req)
	if err != nil {
		g.cache.Thaw()
		g.latch.Rearm()
		err = fmt.Errorf("%w: %v", ErrSubmitFailed, err)
		log.Warn().Err(err).Msg("Submission failed, guard re-armed")
		if g.hooks.OnSubmitFailed != nil {
			g.hooks.OnSubmitFailed(trigger, err)
		}
		return nil, err
	}

	g.submitted.Store(true)
	g.cache.Seal()

	// The exam service owns the attempt now; a leftover record only costs its TTL.
	if err := g.store.Delete(context.WithoutCancel(ctx), g.attemptID); err != nil {
		log.Warn().Err(err).Msg("Clear attempt record failed")
	}

	log.Info().Int("answers", len(req.Answers)).Msg("Attempt submitted")
	if g.hooks.OnSubmitted != nil {
		g.hooks.OnSubmitted(receipt)
	}
	return receipt, nil
}
