package attempt

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a Store backed by encoded blobs in a map. It keeps the
// encode/decode round trip so corrupt-record handling behaves like Redis.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[uuid.UUID][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[uuid.UUID][]byte)}
}

// Put stores a raw blob, bypassing validation. Useful for seeding bad data.
func (s *MemoryStore) Put(attemptID uuid.UUID, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[attemptID] = append([]byte(nil), blob...)
}

// Has reports whether any blob exists for the attempt.
func (s *MemoryStore) Has(attemptID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[attemptID]
	return ok
}

func (s *MemoryStore) Get(_ context.Context, attemptID uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(attemptID)
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(rec.AttemptID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrRecordNotFound) && !errors.Is(err, ErrCorruptRecord) {
		return nil, false, err
	}

	blob, err := EncodeRecord(rec)
	if err != nil {
		return nil, false, err
	}
	s.blobs[rec.AttemptID] = blob
	return rec.Clone(), true, nil
}

func (s *MemoryStore) Update(_ context.Context, attemptID uuid.UUID, fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(attemptID)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	blob, err := EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	s.blobs[attemptID] = blob
	return rec.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, attemptID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, attemptID)
	return nil
}

func (s *MemoryStore) load(attemptID uuid.UUID) (*Record, error) {
	blob, ok := s.blobs[attemptID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return DecodeRecord(blob)
}
