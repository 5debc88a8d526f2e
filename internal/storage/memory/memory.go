package memory

import (
	"context"
	"sync"
	"time"

	"github.com/zinwlad/game-timer/internal/storage"
)

// Store is a process-local storage.Store. Nothing survives a restart.
type Store struct {
	mu      sync.Mutex
	records map[storage.RecordKey]storage.UsageRecord
	rest    *storage.RestPeriod
	timer   *storage.TimerState
	closed  bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[storage.RecordKey]storage.UsageRecord)}
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Usage returns the usage store.
func (s *Store) Usage() storage.UsageStore { return (*usageStore)(s) }

// State returns the state store.
func (s *Store) State() storage.StateStore { return (*stateStore)(s) }

type usageStore Store

func (u *usageStore) UpsertRecords(ctx context.Context, records []storage.UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, r := range records {
		r.Timestamp = r.Timestamp.Truncate(time.Second)
		u.records[r.Key()] = r
	}
	return nil
}

func (u *usageStore) ListRecords(ctx context.Context, start, end time.Time) ([]storage.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.Lock()
	out := make([]storage.UsageRecord, 0, len(u.records))
	for _, r := range u.records {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	u.mu.Unlock()
	storage.SortRecords(out)
	return out, nil
}

func (u *usageStore) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	deleted := 0
	for key, r := range u.records {
		if r.Timestamp.Before(cutoff) {
			delete(u.records, key)
			deleted++
		}
	}
	return deleted, nil
}

type stateStore Store

func (s *stateStore) GetRestPeriod(_ context.Context) (*storage.RestPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rest == nil {
		return nil, storage.ErrNotFound
	}
	rest := *s.rest
	return &rest, nil
}

func (s *stateStore) PutRestPeriod(_ context.Context, rest storage.RestPeriod) error {
	s.mu.Lock()
	s.rest = &rest
	s.mu.Unlock()
	return nil
}

func (s *stateStore) ClearRestPeriod(_ context.Context) error {
	s.mu.Lock()
	s.rest = nil
	s.mu.Unlock()
	return nil
}

func (s *stateStore) GetTimerState(_ context.Context) (*storage.TimerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return nil, storage.ErrNotFound
	}
	state := *s.timer
	return &state, nil
}

func (s *stateStore) PutTimerState(_ context.Context, state storage.TimerState) error {
	s.mu.Lock()
	s.timer = &state
	s.mu.Unlock()
	return nil
}
