package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/storage"
	"go.etcd.io/bbolt"
)

// keyTimeLayout is fixed-width UTC so byte order equals time order.
const keyTimeLayout = "20060102T150405Z"

type usageStore struct {
	db     *bbolt.DB
	logger zerolog.Logger
}

func (s *usageStore) UpsertRecords(ctx context.Context, records []storage.UsageRecord) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return fmt.Errorf("usage bucket missing")
		}
		for _, r := range records {
			r.Timestamp = r.Timestamp.Truncate(time.Second)
			data, err := marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(recordKey(r.Timestamp, r.ProcessName), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRecords returns records in [start, end). A value that does not decode
// is logged and skipped so the rest of the range is still counted.
func (s *usageStore) ListRecords(ctx context.Context, start, end time.Time) ([]storage.UsageRecord, error) {
	records := make([]storage.UsageRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return nil
		}
		upper := timeKey(end)
		c := b.Cursor()
		for k, v := c.Seek(timeKey(start)); k != nil && bytes.Compare(k, upper) < 0; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var record storage.UsageRecord
			if err := unmarshal(v, &record); err != nil {
				s.logger.Warn().Err(err).Str("key", string(k)).Msg("Skipping unreadable usage record")
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *usageStore) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return nil
		}
		upper := timeKey(cutoff)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, upper) < 0; k, _ = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(stale)
		return nil
	})
	return deleted, err
}

func timeKey(t time.Time) []byte {
	return []byte(t.UTC().Truncate(time.Second).Format(keyTimeLayout))
}

func recordKey(t time.Time, processName string) []byte {
	return []byte(fmt.Sprintf("%s/%s", timeKey(t), processName))
}
