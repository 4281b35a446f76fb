// Package memory provides an in-process personalization store used by tests
// and single-node development setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/personalization"
)

// Store keeps records in a map guarded by a mutex. Records are cloned on the
// way in and out so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	records map[personalization.Key]*personalization.Record
	now     func() time.Time
	closed  bool
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		records: make(map[personalization.Key]*personalization.Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key personalization.Key) (*personalization.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.records[key].Clone(), nil
}

func (s *Store) Upsert(ctx context.Context, key personalization.Key, p personalization.Patch) (*personalization.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	record, ok := s.records[key]
	if !ok {
		record = personalization.NewRecord(key, now)
		s.records[key] = record
	}
	record.Apply(p, now)
	return record.Clone(), nil
}

func (s *Store) Update(ctx context.Context, key personalization.Key, p personalization.Patch) (*personalization.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, errors.NotFoundError("personalization record").WithContext("key", key.String())
	}
	record.Apply(p, s.now().UTC())
	return record.Clone(), nil
}

func (s *Store) FindByState(ctx context.Context, state string) (*personalization.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if state == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.OAuthState != nil && *record.OAuthState == state {
			return record.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) ConsumeState(ctx context.Context, key personalization.Key, state string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok || state == "" || record.OAuthState == nil || *record.OAuthState != state {
		return false, nil
	}
	record.OAuthState = nil
	record.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) ListConnected(ctx context.Context) ([]*personalization.Record, error) {
	return s.list(ctx, (*personalization.Record).HasTokens)
}

func (s *Store) ListAutoRefresh(ctx context.Context) ([]*personalization.Record, error) {
	return s.list(ctx, personalization.EligibleForAutoRefresh)
}

func (s *Store) list(ctx context.Context, keep func(*personalization.Record) bool) ([]*personalization.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*personalization.Record
	for _, record := range s.records {
		if keep(record) {
			out = append(out, record.Clone())
		}
	}
	// Stable order keeps job runs deterministic
	sort.Slice(out, func(i, j int) bool {
		if out[i].TrainerID != out[j].TrainerID {
			return out[i].TrainerID < out[j].TrainerID
		}
		return out[i].CourseID < out[j].CourseID
	})
	return out, nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.check(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ConnectionError("memory store is closed", nil)
	}
	return nil
}
