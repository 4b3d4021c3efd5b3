package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const sweepBatch = 100

// DeadlineIndex lists open attempts by deadline.
type DeadlineIndex interface {
	Due(ctx context.Context, now time.Time, limit int64) ([]uuid.UUID, error)
	Forget(ctx context.Context, attemptID uuid.UUID) error
}

// Expirer submits an attempt whose deadline has passed and reports whether a
// submission actually happened.
type Expirer interface {
	ForceExpire(ctx context.Context, attemptID uuid.UUID) (bool, error)
}

// ExpirySweeper submits attempts whose deadline passed while nobody was
// connected, e.g. a closed laptop or a restarted process.
type ExpirySweeper struct {
	index    DeadlineIndex
	expirer  Expirer
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewExpirySweeper creates a sweeper that runs every interval.
func NewExpirySweeper(index DeadlineIndex, expirer Expirer, interval time.Duration, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		index:    index,
		expirer:  expirer,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Start sweeps until ctx is cancelled. Call in a goroutine.
func (s *ExpirySweeper) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("Sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires one batch of overdue attempts and returns how many it submitted.
func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	ids, err := s.index.Due(ctx, s.now(), sweepBatch)
	if err != nil {
		s.log.Error().Err(err).Msg("List overdue attempts failed")
		return 0
	}

	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		submitted, err := s.expirer.ForceExpire(ctx, id)
		switch {
		case err == nil:
			if submitted {
				expired++
			}
		case errors.Is(err, service.ErrAttemptNotFound):
			// The exam service never heard of it; nothing to submit.
			s.log.Warn().Str("attempt_id", id.String()).Msg("Dropping unknown attempt from deadline index")
			if ferr := s.index.Forget(ctx, id); ferr != nil {
				s.log.Error().Err(ferr).Str("attempt_id", id.String()).Msg("Forget attempt failed")
			}
		case errors.Is(err, service.ErrServiceClosed):
			return expired
		default:
			// Left in the index; the next sweep retries.
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Force expire failed")
		}
	}

	if expired > 0 {
		s.log.Info().Int("expired", expired).Int("due", len(ids)).Msg("Swept overdue attempts")
	}
	return expired
}
