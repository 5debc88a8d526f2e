package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketUsage = "usage_records"
	bucketState = "engine_state"

	keyRestPeriod = "rest_period"
	keyTimerState = "timer_state"

	// openTimeout bounds the wait for the file lock held by another instance.
	openTimeout = 2 * time.Second
)

// ErrLocked is returned when another process holds the database file.
var ErrLocked = errors.New("bolt: database is locked by another instance")

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db     *bbolt.DB
	logger zerolog.Logger
}

// Open opens a BoltDB-backed store. The exclusive file lock doubles as a
// single-instance guard: a second daemon on the same file gets ErrLocked.
func Open(path string) (*Store, error) {
	return open(path, zerolog.Nop())
}

func open(path string, logger zerolog.Logger) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// OpenOrRecover opens the store at path. If the file exists but cannot be
// opened as a database, it is moved aside and a fresh database is created
// in its place. A held lock is never treated as corruption.
func OpenOrRecover(path string, logger zerolog.Logger) (*Store, error) {
	store, err := open(path, logger)
	if err == nil || errors.Is(err, ErrLocked) {
		return store, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	logger.Error().
		Err(err).
		Str("path", path).
		Str("moved_to", aside).
		Msg("Usage database unreadable, starting with an empty ledger")

	if renameErr := os.Rename(path, aside); renameErr != nil {
		return nil, fmt.Errorf("move corrupt db aside: %w", renameErr)
	}
	return open(path, logger)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketUsage, bucketState} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Usage returns the usage store.
func (s *Store) Usage() storage.UsageStore { return &usageStore{db: s.db, logger: s.logger} }

// State returns the engine state store.
func (s *Store) State() storage.StateStore { return &stateStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

func getBucketValue[T any](ctx context.Context, db *bbolt.DB, bucket string, key string) (*T, error) {
	var item *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		var result T
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		item = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func putBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

func deleteBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}
