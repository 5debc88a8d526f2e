package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrInvalid is returned when a record fails validation before it is written.
var ErrInvalid = errors.New("storage: invalid record")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	State() StateStore
}

// UsageStore manages the usage ledger's durable records.
type UsageStore interface {
	// UpsertRecords writes records keyed by (timestamp, process name).
	// A record whose key already exists replaces the stored one.
	UpsertRecords(ctx context.Context, records []UsageRecord) error
	// ListRecords returns records with start <= timestamp < end,
	// ordered by timestamp.
	ListRecords(ctx context.Context, start, end time.Time) ([]UsageRecord, error)
	DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StateStore persists enforcement state that must survive a restart.
type StateStore interface {
	GetRestPeriod(ctx context.Context) (*RestPeriod, error)
	PutRestPeriod(ctx context.Context, rest RestPeriod) error
	ClearRestPeriod(ctx context.Context) error
	GetTimerState(ctx context.Context) (*TimerState, error)
	PutTimerState(ctx context.Context, state TimerState) error
}
