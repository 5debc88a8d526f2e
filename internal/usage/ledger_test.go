package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/storage"
	"github.com/zinwlad/game-timer/internal/storage/memory"
)

// flakyStore fails writes or reads on demand.
type flakyStore struct {
	storage.UsageStore
	mu        sync.Mutex
	failWrite bool
	failRead  bool
	writes    int
	reads     int
}

func (f *flakyStore) UpsertRecords(ctx context.Context, records []storage.UsageRecord) error {
	f.mu.Lock()
	f.writes++
	fail := f.failWrite
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.UsageStore.UpsertRecords(ctx, records)
}

func (f *flakyStore) ListRecords(ctx context.Context, start, end time.Time) ([]storage.UsageRecord, error) {
	f.mu.Lock()
	f.reads++
	fail := f.failRead
	f.mu.Unlock()
	if fail {
		return nil, errors.New("read error")
	}
	return f.UsageStore.ListRecords(ctx, start, end)
}

func (f *flakyStore) setFailWrite(v bool) {
	f.mu.Lock()
	f.failWrite = v
	f.mu.Unlock()
}

func (f *flakyStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *flakyStore) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func newTestLedger(t *testing.T, cfg Config) (*Ledger, *flakyStore, *clock.Manual) {
	t.Helper()
	store := &flakyStore{UsageStore: memory.New().Usage()}
	clk := clock.NewManual(time.Date(2024, 3, 6, 15, 0, 0, 0, time.Local))
	return NewLedger(store, clk, cfg, zerolog.Nop()), store, clk
}

func TestRecordAndDailyTotalAcrossFlush(t *testing.T) {
	ledger, _, clk := newTestLedger(t, Config{})
	ctx := context.Background()

	require.NoError(t, ledger.Record("game.exe", 60))
	clk.Advance(time.Minute)
	require.NoError(t, ledger.Record("game.exe", 60))
	assert.Equal(t, int64(120), ledger.DailyTotal(ctx, clk.Now()), "buffered records count")

	require.NoError(t, ledger.Flush(ctx))
	assert.Equal(t, 0, ledger.Buffered())

	clk.Advance(time.Minute)
	require.NoError(t, ledger.Record("minecraft.exe", 30))
	assert.Equal(t, int64(150), ledger.DailyTotal(ctx, clk.Now()), "stored plus buffered")
}

func TestRecordSameSecondSums(t *testing.T) {
	ledger, _, clk := newTestLedger(t, Config{})
	ctx := context.Background()

	require.NoError(t, ledger.Record("game.exe", 10))
	require.NoError(t, ledger.Record("game.exe", 5))
	assert.Equal(t, 1, ledger.Buffered())

	require.NoError(t, ledger.Flush(ctx))
	// Same second again after the first value was already stored.
	require.NoError(t, ledger.Record("game.exe", 7))
	require.NoError(t, ledger.Flush(ctx))

	assert.Equal(t, int64(22), ledger.DailyTotal(ctx, clk.Now()))
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	ledger, _, _ := newTestLedger(t, Config{KnownProcesses: []string{"game.exe"}})

	tests := []struct {
		name    string
		process string
		seconds int64
	}{
		{name: "negative", process: "game.exe", seconds: -5},
		{name: "zero", process: "game.exe", seconds: 0},
		{name: "empty name", process: "  ", seconds: 5},
		{name: "unknown name", process: "notepad.exe", seconds: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ledger.Record(tt.process, tt.seconds)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
	assert.Equal(t, 0, ledger.Buffered(), "rejected input must not touch the buffer")
	assert.NoError(t, ledger.Record("GAME.EXE", 5), "names are case-insensitive")
}

func TestFailedFlushKeepsRecords(t *testing.T) {
	ledger, store, clk := newTestLedger(t, Config{})
	ctx := context.Background()

	require.NoError(t, ledger.Record("game.exe", 60))
	store.setFailWrite(true)
	assert.Error(t, ledger.Flush(ctx))
	assert.Equal(t, 1, ledger.Buffered())

	clk.Advance(time.Second)
	require.NoError(t, ledger.Record("game.exe", 30))

	store.setFailWrite(false)
	require.NoError(t, ledger.Flush(ctx))
	assert.Equal(t, 0, ledger.Buffered())
	assert.Equal(t, int64(90), ledger.DailyTotal(ctx, clk.Now()))
}

func TestFailedReadFallsBackToBuffer(t *testing.T) {
	ledger, store, clk := newTestLedger(t, Config{})
	ctx := context.Background()

	require.NoError(t, ledger.Record("game.exe", 60))
	require.NoError(t, ledger.Flush(ctx))
	require.NoError(t, ledger.Record("minecraft.exe", 20))

	store.mu.Lock()
	store.failRead = true
	store.mu.Unlock()

	assert.Equal(t, int64(20), ledger.DailyTotal(ctx, clk.Now()))
	assert.Equal(t, map[string]int64{"minecraft.exe": 20}, ledger.PerProcessTotal(ctx, clk.Now()))
}

func TestSizeTriggeredFlush(t *testing.T) {
	ledger, store, clk := newTestLedger(t, Config{BufferSize: 3, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = ledger.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.Record("game.exe", 10))
		clk.Advance(time.Second)
	}

	require.Eventually(t, func() bool { return ledger.Buffered() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.writeCount())

	cancel()
	<-done
}

func TestConcurrentRecordDuringFlush(t *testing.T) {
	ledger, store, clk := newTestLedger(t, Config{BufferSize: 7, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = ledger.Run(ctx)
		close(done)
	}()

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, ledger.Record("game.exe", 1))
				if i%10 == 9 {
					clk.Advance(time.Second)
				}
			}
		}()
	}
	wg.Wait()
	cancel()
	<-done

	require.NoError(t, ledger.Close(context.Background()))
	assert.Equal(t, 0, ledger.Buffered())
	assert.Positive(t, store.writeCount())

	day := clock.StartOfDay(clk.Now())
	records, err := store.ListRecords(context.Background(), day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	var stored int64
	for _, r := range records {
		stored += r.DurationSeconds
	}
	assert.Equal(t, int64(producers*perProducer), stored, "every recorded second reaches the store once")
	assert.Equal(t, int64(producers*perProducer), ledger.DailyTotal(context.Background(), clk.Now()))
}

func TestStoredRangeReusedUntilFlush(t *testing.T) {
	ledger, store, clk := newTestLedger(t, Config{FlushInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, ledger.Record("game.exe", 60))
	require.NoError(t, ledger.Flush(ctx))

	for i := 0; i < 10; i++ {
		clk.Advance(time.Second)
		require.NoError(t, ledger.Record("game.exe", 1))
		assert.Equal(t, int64(61+i), ledger.DailyTotal(ctx, clk.Now()))
	}
	assert.Equal(t, 1, store.readCount(), "buffered usage is added to one stored snapshot")

	require.NoError(t, ledger.Flush(ctx))
	assert.Equal(t, int64(70), ledger.DailyTotal(ctx, clk.Now()))
	assert.Equal(t, 2, store.readCount(), "a flush invalidates the snapshot")

	clk.Advance(time.Hour)
	assert.Equal(t, int64(70), ledger.DailyTotal(ctx, clk.Now()))
	assert.Equal(t, 3, store.readCount(), "snapshots older than the flush interval are reread")
}

func TestWeeklyAndPerProcess(t *testing.T) {
	ledger, _, clk := newTestLedger(t, Config{})
	ctx := context.Background()

	// Wednesday 2024-03-06; week starts Monday 2024-03-04.
	monday := time.Date(2024, 3, 4, 10, 0, 0, 0, time.Local)
	clk.Set(monday)
	require.NoError(t, ledger.Record("game.exe", 100))
	clk.Set(monday.AddDate(0, 0, 2))
	require.NoError(t, ledger.Record("minecraft.exe", 50))
	clk.Set(monday.AddDate(0, 0, 7)) // next Monday
	require.NoError(t, ledger.Record("game.exe", 999))

	week := WeekStart(time.Date(2024, 3, 6, 12, 0, 0, 0, time.Local))
	assert.True(t, week.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.Local)))
	assert.Equal(t, int64(150), ledger.WeeklyTotal(ctx, week))

	perDay := ledger.PerProcessTotal(ctx, monday)
	assert.Equal(t, map[string]int64{"game.exe": 100}, perDay)

	perRange := ledger.PerProcessRange(ctx, week, week.AddDate(0, 0, 14))
	assert.Equal(t, map[string]int64{"game.exe": 1099, "minecraft.exe": 50}, perRange)
}

func TestLastSeenAndSessionCount(t *testing.T) {
	ledger, _, clk := newTestLedger(t, Config{SessionGap: 15 * time.Minute})
	ctx := context.Background()
	start := time.Date(2024, 3, 6, 9, 0, 0, 0, time.Local)

	offsets := []time.Duration{0, time.Minute, 2 * time.Minute, 40 * time.Minute, 41 * time.Minute, 3 * time.Hour}
	for _, off := range offsets {
		clk.Set(start.Add(off))
		require.NoError(t, ledger.Record("game.exe", 60))
	}
	clk.Set(start.Add(5 * time.Minute))
	require.NoError(t, ledger.Record("minecraft.exe", 60))

	day := clock.StartOfDay(start)
	stats := ledger.LastSeenAndSessionCount(ctx, day, day.AddDate(0, 0, 1), 0)

	require.Contains(t, stats, "game.exe")
	assert.Equal(t, 3, stats["game.exe"].SessionCount)
	assert.True(t, stats["game.exe"].LastSeen.Equal(start.Add(3*time.Hour)))
	assert.Equal(t, 1, stats["minecraft.exe"].SessionCount)

	// A wide gap merges everything into one session.
	wide := ledger.LastSeenAndSessionCount(ctx, day, day.AddDate(0, 0, 1), 4*time.Hour)
	assert.Equal(t, 1, wide["game.exe"].SessionCount)
}

func TestPurgeRemovesOldRecords(t *testing.T) {
	ledger, _, clk := newTestLedger(t, Config{Retention: 30 * 24 * time.Hour})
	ctx := context.Background()

	now := clk.Now()
	clk.Set(now.AddDate(0, 0, -40))
	require.NoError(t, ledger.Record("game.exe", 60))
	clk.Set(now)
	require.NoError(t, ledger.Record("game.exe", 60))
	require.NoError(t, ledger.Flush(ctx))

	deleted, err := ledger.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, int64(60), ledger.PerProcessRange(ctx, now.AddDate(0, 0, -60), now.Add(time.Hour))["game.exe"])
}

func TestCloseFlushes(t *testing.T) {
	ledger, store, clk := newTestLedger(t, Config{})
	require.NoError(t, ledger.Record("game.exe", 42))
	require.NoError(t, ledger.Close(context.Background()))

	records, err := store.ListRecords(context.Background(), clock.StartOfDay(clk.Now()), clock.NextMidnight(clk.Now()))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(42), records[0].DurationSeconds)
}
