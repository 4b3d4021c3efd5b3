package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// DraftWorker consumes persist_drafts_queue and UPSERTs answer drafts so
// proctors can follow progress from PostgreSQL.
type DraftWorker struct {
	db  DB
	rdb *redis.Client
	log zerolog.Logger
}

// NewDraftWorker creates a new DraftWorker.
func NewDraftWorker(db DB, rdb *redis.Client, log zerolog.Logger) *DraftWorker {
	return &DraftWorker{
		db:  db,
		rdb: rdb,
		log: log.With().Str("component", "draft_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *DraftWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *DraftWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistDraftsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleep(ctx, redisBackoff)
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var draft model.DraftSnapshot
	if err := json.Unmarshal([]byte(result[1]), &draft); err != nil {
		w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed draft")
		return
	}

	if err := w.persistDraft(ctx, &draft); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", draft.AttemptID.String()).
			Str("question_id", draft.QuestionID.String()).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistDraftsQueue, result[1])
		sleep(ctx, 5*time.Second)
	}
}

// persistDraft keeps the newest draft per question; a requeued older snapshot
// never overwrites a newer one.
func (w *DraftWorker) persistDraft(ctx context.Context, d *model.DraftSnapshot) error {
	_, err := w.db.Exec(ctx,
		`INSERT INTO attempt_drafts (attempt_id, question_id, selected_option_id, text_answer, saved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option_id = EXCLUDED.selected_option_id,
		     text_answer = EXCLUDED.text_answer,
		     saved_at = EXCLUDED.saved_at
		 WHERE attempt_drafts.saved_at <= EXCLUDED.saved_at`,
		d.AttemptID, d.QuestionID, d.SelectedOptionID, d.TextAnswer, time.UnixMilli(d.SavedAt),
	)
	return err
}

// drain processes all remaining items in the queue before shutdown.
func (w *DraftWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistDraftsQueue).Result()
		if err != nil {
			break
		}

		var draft model.DraftSnapshot
		if err := json.Unmarshal([]byte(result), &draft); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persistDraft(ctx, &draft); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistDraftsQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
