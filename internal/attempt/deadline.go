package attempt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// RemainingSeconds derives the whole seconds left until deadlineMs, clamped to zero.
func RemainingSeconds(deadlineMs int64, now time.Time) int {
	left := deadlineMs - now.UnixMilli()
	if left <= 0 {
		return 0
	}
	return int(left / 1000)
}

// Reconciler owns the absolute deadline of an attempt. The deadline is
// computed once, on first load, and every later load reuses the stored value.
type Reconciler struct {
	store Store
	clock Clock
	log   zerolog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(store Store, clock Clock, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, clock: clock, log: log}
}

// Remaining returns the seconds left on rec at the current clock reading.
func (r *Reconciler) Remaining(rec *Record) int {
	return RemainingSeconds(rec.AbsoluteDeadline, r.clock.Now())
}

// Reconcile loads the attempt record or creates it from the exam definition.
// created is true only when this call wrote the record.
func (r *Reconciler) Reconcile(ctx context.Context, attemptID uuid.UUID, def *model.ExamDefinition) (*Record, bool, error) {
	rec, err := r.store.Get(ctx, attemptID)
	switch {
	case err == nil:
		if rec.ExamID != def.ExamID {
			return nil, false, ErrExamMismatch
		}
		return rec, false, nil
	case errors.Is(err, ErrCorruptRecord):
		// Treated as absent. This forfeits the reload protection for this attempt.
		r.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Discarding corrupt attempt record")
	case errors.Is(err, ErrRecordNotFound):
	default:
		return nil, false, fmt.Errorf("load attempt record: %w", err)
	}

	if def.DurationMinutes <= 0 {
		return nil, false, fmt.Errorf("%w: invalid duration %d", ErrExamUnavailable, def.DurationMinutes)
	}

	deadline := r.clock.Now().Add(time.Duration(def.DurationMinutes) * time.Minute).UnixMilli()
	stored, created, err := r.store.Create(ctx, NewRecord(attemptID, def.ExamID, deadline))
	if err != nil {
		return nil, false, fmt.Errorf("create attempt record: %w", err)
	}
	if stored.ExamID != def.ExamID {
		return nil, false, ErrExamMismatch
	}

	if created {
		r.log.Info().
			Str("attempt_id", attemptID.String()).
			Time("deadline", time.UnixMilli(deadline)).
			Msg("Attempt deadline fixed")
	}
	return stored, created, nil
}
