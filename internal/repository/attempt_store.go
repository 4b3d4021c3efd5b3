package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
)

const maxTxRetries = 8

// AttemptStore keeps attempt records in Redis as single JSON blobs.
// Every write goes through WATCH/MULTI so concurrent writers never lose
// each other's fields. Open attempts are also indexed by deadline for the
// expiry sweeper.
type AttemptStore struct {
	rdb   *redis.Client
	grace time.Duration
}

// NewAttemptStore creates an AttemptStore. Records expire grace after their deadline.
func NewAttemptStore(rdb *redis.Client, grace time.Duration) *AttemptStore {
	return &AttemptStore{rdb: rdb, grace: grace}
}

func (s *AttemptStore) key(attemptID uuid.UUID) string {
	return config.CacheKey.AttemptSessionKey(attemptID.String())
}

func (s *AttemptStore) ttl(rec *attempt.Record) time.Duration {
	ttl := time.Until(time.UnixMilli(rec.AbsoluteDeadline)) + s.grace
	if ttl < s.grace {
		ttl = s.grace
	}
	return ttl
}

// Get loads the record for attemptID.
func (s *AttemptStore) Get(ctx context.Context, attemptID uuid.UUID) (*attempt.Record, error) {
	raw, err := s.rdb.Get(ctx, s.key(attemptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, attempt.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt record: %w", err)
	}
	return attempt.DecodeRecord(raw)
}

// Create writes rec unless a readable record already exists.
func (s *AttemptStore) Create(ctx context.Context, rec *attempt.Record) (*attempt.Record, bool, error) {
	blob, err := attempt.EncodeRecord(rec)
	if err != nil {
		return nil, false, err
	}

	key := s.key(rec.AttemptID)
	var (
		stored  *attempt.Record
		created bool
	)

	err = s.watch(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if existing, derr := attempt.DecodeRecord(raw); derr == nil {
				stored, created = existing, false
				return nil
			}
		case errors.Is(err, redis.Nil):
		default:
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, s.ttl(rec))
			pipe.ZAdd(ctx, config.CacheKey.AttemptDeadlineIndexKey(), redis.Z{
				Score:  float64(rec.AbsoluteDeadline),
				Member: rec.AttemptID.String(),
			})
			return nil
		})
		if err != nil {
			return err
		}
		stored, created = rec.Clone(), true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("create attempt record: %w", err)
	}
	return stored, created, nil
}

// Update applies fn to the latest record and writes it back atomically.
func (s *AttemptStore) Update(ctx context.Context, attemptID uuid.UUID, fn func(*attempt.Record) error) (*attempt.Record, error) {
	key := s.key(attemptID)
	var updated *attempt.Record

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return attempt.ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		rec, err := attempt.DecodeRecord(raw)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		blob, err := attempt.EncodeRecord(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, s.ttl(rec))
			return nil
		})
		if err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		if errors.Is(err, attempt.ErrRecordNotFound) || errors.Is(err, attempt.ErrCorruptRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("update attempt record: %w", err)
	}
	return updated, nil
}

// Delete removes the record and its deadline index entry.
func (s *AttemptStore) Delete(ctx context.Context, attemptID uuid.UUID) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(attemptID))
		pipe.ZRem(ctx, config.CacheKey.AttemptDeadlineIndexKey(), attemptID.String())
		return nil
	})
	return err
}

// Due returns up to limit attempts whose deadline is at or before now.
func (s *AttemptStore) Due(ctx context.Context, now time.Time, limit int64) ([]uuid.UUID, error) {
	members, err := s.rdb.ZRangeByScore(ctx, config.CacheKey.AttemptDeadlineIndexKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range deadline index: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			s.rdb.ZRem(ctx, config.CacheKey.AttemptDeadlineIndexKey(), m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Forget drops an attempt from the deadline index without touching its record.
func (s *AttemptStore) Forget(ctx context.Context, attemptID uuid.UUID) error {
	return s.rdb.ZRem(ctx, config.CacheKey.AttemptDeadlineIndexKey(), attemptID.String()).Err()
}

func (s *AttemptStore) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("attempt record %s: too much contention", key)
}
