package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// EventPublisher carries attempt side effects out of the request path:
// audit rows go to worker queues, live updates to the exam monitor channel.
type EventPublisher interface {
	PublishViolation(ctx context.Context, ev *model.ViolationEvent)
	PublishDraft(ctx context.Context, snap *model.DraftSnapshot)
	PublishMonitor(ctx context.Context, examID uuid.UUID, ev *model.MonitorEvent)
}

// RedisPublisher implements EventPublisher on Redis lists and Pub/Sub.
// Failures are logged and swallowed; the attempt record stays authoritative.
type RedisPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(rdb *redis.Client, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		rdb: rdb,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// PublishViolation queues the violation for the audit log and notifies proctors.
func (p *RedisPublisher) PublishViolation(ctx context.Context, ev *model.ViolationEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal violation event")
		return
	}

	monitor, err := json.Marshal(&model.MonitorEvent{
		Type:      model.MonitorEventViolation,
		AttemptID: ev.AttemptID,
		StudentID: ev.StudentID,
		Count:     ev.Count,
		Kind:      ev.Kind,
		At:        ev.OccurredAt,
	})
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal monitor event")
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), monitor)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Error().
			Err(err).
			Str("attempt_id", ev.AttemptID.String()).
			Int("count", ev.Count).
			Msg("Failed to publish violation")
	}
}

// PublishDraft queues an answer snapshot for the progress table.
func (p *RedisPublisher) PublishDraft(ctx context.Context, snap *model.DraftSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal draft snapshot")
		return
	}
	if err := p.rdb.RPush(ctx, config.WorkerKey.PersistDraftsQueue, payload).Err(); err != nil {
		p.log.Error().
			Err(err).
			Str("attempt_id", snap.AttemptID.String()).
			Msg("Failed to queue draft snapshot")
	}
}

// PublishMonitor broadcasts ev to proctors watching examID.
func (p *RedisPublisher) PublishMonitor(ctx context.Context, examID uuid.UUID, ev *model.MonitorEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal monitor event")
		return
	}
	if err := p.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to publish monitor event")
	}
}
