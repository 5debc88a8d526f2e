package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/storage"
)

var (
	upsertRecords       = redis.NewScript(upsertRecordsScript)
	deleteRecordsBefore = redis.NewScript(deleteRecordsBeforeScript)
)

type usageStore struct {
	client *redis.Client
	keys   keyspace
	logger zerolog.Logger
}

// UpsertRecords writes all records in one atomic script call
func (s *usageStore) UpsertRecords(ctx context.Context, records []storage.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	args := make([]interface{}, 0, 1+3*len(records))
	args = append(args, s.keys.recordPrefix())
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		args = append(args, r.Timestamp.Unix(), r.ProcessName, r.DurationSeconds)
	}

	return upsertRecords.Run(ctx, s.client, []string{s.keys.usageIndex()}, args...).Err()
}

// ListRecords returns records in [start, end) ordered by timestamp. A hash
// that does not parse is logged and skipped.
func (s *usageStore) ListRecords(ctx context.Context, start, end time.Time) ([]storage.UsageRecord, error) {
	members, err := s.client.ZRangeByScore(ctx, s.keys.usageIndex(), &redis.ZRangeBy{
		Min: strconv.FormatInt(ceilUnix(start), 10),
		Max: "(" + strconv.FormatInt(ceilUnix(end), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range usage index: %w", err)
	}
	if len(members) == 0 {
		return []storage.UsageRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.HGetAll(ctx, s.keys.record(member))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load usage records: %w", err)
	}

	records := make([]storage.UsageRecord, 0, len(members))
	for i, cmd := range cmds {
		record, err := parseUsageRecord(cmd.Val())
		if err != nil {
			s.logger.Warn().Err(err).Str("member", members[i]).Msg("Skipping unreadable usage record")
			continue
		}
		records = append(records, *record)
	}
	storage.SortRecords(records)
	return records, nil
}

// DeleteRecordsBefore removes records older than cutoff
func (s *usageStore) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := deleteRecordsBefore.Run(ctx, s.client,
		[]string{s.keys.usageIndex()},
		s.keys.recordPrefix(), ceilUnix(cutoff),
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}
