package bolt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/storage"
	"go.etcd.io/bbolt"
)

func TestUsageStoreUpsertAndRange(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	records := []storage.UsageRecord{
		{Timestamp: base, ProcessName: "game.exe", DurationSeconds: 60},
		{Timestamp: base.Add(time.Minute), ProcessName: "game.exe", DurationSeconds: 60},
		{Timestamp: base.Add(2 * time.Minute), ProcessName: "minecraft.exe", DurationSeconds: 30},
		{Timestamp: base.Add(24 * time.Hour), ProcessName: "game.exe", DurationSeconds: 90},
	}
	if err := store.Usage().UpsertRecords(ctx, records); err != nil {
		t.Fatalf("upsert records: %v", err)
	}

	// Same key again: last write wins.
	if err := store.Usage().UpsertRecords(ctx, []storage.UsageRecord{
		{Timestamp: base.Add(300 * time.Millisecond), ProcessName: "game.exe", DurationSeconds: 15},
	}); err != nil {
		t.Fatalf("upsert replacement: %v", err)
	}

	got, err := store.Usage().ListRecords(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records in range, got %d", len(got))
	}
	if got[0].DurationSeconds != 15 {
		t.Fatalf("expected replaced duration 15, got %d", got[0].DurationSeconds)
	}
	if got[2].ProcessName != "minecraft.exe" {
		t.Fatalf("expected ordering by time, got %s last", got[2].ProcessName)
	}

	// End of range is exclusive.
	got, err = store.Usage().ListRecords(ctx, base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exclusive end to leave 1 record, got %d", len(got))
	}
}

func TestUsageStoreSkipsUnreadableRecord(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if err := store.Usage().UpsertRecords(ctx, []storage.UsageRecord{
		{Timestamp: base, ProcessName: "game.exe", DurationSeconds: 3600},
		{Timestamp: base.Add(2 * time.Hour), ProcessName: "game.exe", DurationSeconds: 3600},
	}); err != nil {
		t.Fatalf("upsert records: %v", err)
	}

	err := store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketUsage)).Put(recordKey(base.Add(time.Hour), "game.exe"), []byte("{garbage"))
	})
	if err != nil {
		t.Fatalf("inject bad value: %v", err)
	}

	got, err := store.Usage().ListRecords(ctx, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the 2 readable records, got %d", len(got))
	}
	for _, r := range got {
		if r.DurationSeconds != 3600 {
			t.Fatalf("unexpected record %+v", r)
		}
	}
}

func TestUsageStoreRangeAcrossZones(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	zone := time.FixedZone("UTC+5", 5*60*60)
	ts := time.Date(2024, 1, 2, 3, 0, 0, 0, zone) // 2024-01-01 22:00 UTC
	if err := store.Usage().UpsertRecords(ctx, []storage.UsageRecord{
		{Timestamp: ts, ProcessName: "game.exe", DurationSeconds: 60},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	dayStart := time.Date(2024, 1, 2, 0, 0, 0, 0, zone)
	got, err := store.Usage().ListRecords(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected local-day range to contain the record, got %d", len(got))
	}
}

func TestUsageStoreDeleteBefore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.Usage().UpsertRecords(ctx, []storage.UsageRecord{
			{Timestamp: base.AddDate(0, 0, i), ProcessName: "game.exe", DurationSeconds: 60},
		}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	deleted, err := store.Usage().DeleteRecordsBefore(ctx, base.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}

	remaining, err := store.Usage().ListRecords(ctx, base, base.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(remaining))
	}
}

func TestStateStoreRestPeriodSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gametimer.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx := context.Background()
	until := time.Date(2024, 1, 3, 0, 0, 0, 0, time.Local)
	if err := store.State().PutRestPeriod(ctx, storage.RestPeriod{Until: until, Reason: storage.RestDailyLimitExceeded}); err != nil {
		t.Fatalf("put rest period: %v", err)
	}
	if err := store.State().PutTimerState(ctx, storage.TimerState{Mode: storage.ModeCountdown, InitialSeconds: 600, RemainingSeconds: 120, Running: true, Paused: true}); err != nil {
		t.Fatalf("put timer state: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = store.Close() }()

	rest, err := store.State().GetRestPeriod(ctx)
	if err != nil {
		t.Fatalf("get rest period: %v", err)
	}
	if rest.Until.Unix() != until.Unix() || rest.Reason != storage.RestDailyLimitExceeded {
		t.Fatalf("unexpected rest period: %+v", rest)
	}
	timerState, err := store.State().GetTimerState(ctx)
	if err != nil {
		t.Fatalf("get timer state: %v", err)
	}
	if timerState.RemainingSeconds != 120 || !timerState.Paused {
		t.Fatalf("unexpected timer state: %+v", timerState)
	}

	if err := store.State().ClearRestPeriod(ctx); err != nil {
		t.Fatalf("clear rest period: %v", err)
	}
	if _, err := store.State().GetRestPeriod(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenOrRecoverMovesCorruptFileAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gametimer.bolt")
	if err := os.WriteFile(path, []byte("definitely not a bolt database, just some text padding"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	store, err := OpenOrRecover(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open or recover: %v", err)
	}
	defer func() { _ = store.Close() }()

	matches, err := filepath.Glob(path + ".corrupt-*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected corrupt file moved aside, found %v", matches)
	}

	records, err := store.Usage().ListRecords(context.Background(), time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("list on fresh store: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty ledger, got %d records", len(records))
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gametimer.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	return store
}
