package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/metrics"
	"github.com/zinwlad/game-timer/internal/storage"
)

const (
	// DefaultBufferSize is the record count that triggers a flush
	DefaultBufferSize = 100

	// DefaultFlushInterval is the longest a record waits in the buffer
	DefaultFlushInterval = 5 * time.Minute

	// DefaultFlushTimeout bounds a single storage write
	DefaultFlushTimeout = 5 * time.Second

	// DefaultRetention is how long records are kept
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultPurgeInterval is how often retention runs
	DefaultPurgeInterval = time.Hour

	// DefaultSessionGap separates two sessions of the same process
	DefaultSessionGap = 15 * time.Minute

	// storedRangeCacheSize is the number of distinct query ranges whose
	// stored records are kept between flushes.
	storedRangeCacheSize = 16
)

// ErrInvalidRecord is returned by Record for rejected input.
var ErrInvalidRecord = errors.New("usage: invalid record")

// Config holds ledger configuration
type Config struct {
	BufferSize    int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	Retention     time.Duration
	PurgeInterval time.Duration
	SessionGap    time.Duration
	// KnownProcesses, when non-empty, restricts Record to these names.
	KnownProcesses []string
}

// Ledger buffers usage records in memory and writes them to a
// storage.UsageStore in batches. Aggregates are always computed from the
// stored records plus whatever is still buffered. Stored records are read
// once per range and reused until the next flush or purge, or until
// FlushInterval has passed.
type Ledger struct {
	store  storage.UsageStore
	clock  clock.Clock
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	buffer    []storage.UsageRecord
	index     map[storage.RecordKey]int
	frozen    int // leading buffer entries owned by an in-progress flush
	lastStamp map[string]int64
	known     map[string]struct{}
	lastFlush time.Time

	flushMu sync.Mutex
	flushCh chan struct{}
	ranges  *lru.Cache[rangeKey, storedRange]
}

// NewLedger creates a new usage ledger
func NewLedger(store storage.UsageStore, clk clock.Clock, cfg Config, logger zerolog.Logger) *Ledger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = DefaultPurgeInterval
	}
	if cfg.SessionGap <= 0 {
		cfg.SessionGap = DefaultSessionGap
	}

	ranges, _ := lru.New[rangeKey, storedRange](storedRangeCacheSize)
	l := &Ledger{
		store:     store,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With().Str("component", "usage-ledger").Logger(),
		index:     make(map[storage.RecordKey]int),
		lastStamp: make(map[string]int64),
		lastFlush: clk.Now(),
		flushCh:   make(chan struct{}, 1),
		ranges:    ranges,
	}
	l.SetKnownProcesses(cfg.KnownProcesses)
	return l
}

// SetKnownProcesses replaces the set of names Record accepts. An empty
// list accepts any non-empty name.
func (l *Ledger) SetKnownProcesses(names []string) {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[strings.ToLower(n)] = struct{}{}
	}
	l.mu.Lock()
	l.known = known
	l.mu.Unlock()
}

// Record appends durationSeconds of usage for processName at the current
// second. Records sharing a second with a buffered record for the same
// process are summed into it.
func (l *Ledger) Record(processName string, durationSeconds int64) error {
	name := strings.ToLower(strings.TrimSpace(processName))
	if name == "" {
		return fmt.Errorf("%w: empty process name", ErrInvalidRecord)
	}
	if durationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidRecord, durationSeconds)
	}

	now := l.clock.Now().Truncate(time.Second)

	l.mu.Lock()
	if len(l.known) > 0 {
		if _, ok := l.known[name]; !ok {
			l.mu.Unlock()
			return fmt.Errorf("%w: unknown process %q", ErrInvalidRecord, name)
		}
	}

	sec := now.Unix()
	key := storage.RecordKey{Unix: sec, ProcessName: name}
	if i, ok := l.index[key]; ok && i >= l.frozen {
		l.buffer[i].DurationSeconds += durationSeconds
	} else {
		// The key is already stored or being stored; a replace would
		// drop the earlier duration, so move to the next free second.
		if last, seen := l.lastStamp[name]; seen && sec <= last {
			sec = last + 1
			key.Unix = sec
		}
		l.index[key] = len(l.buffer)
		l.buffer = append(l.buffer, storage.UsageRecord{
			Timestamp:       time.Unix(sec, 0).In(now.Location()),
			ProcessName:     name,
			DurationSeconds: durationSeconds,
		})
		l.lastStamp[name] = sec
	}
	pending := len(l.buffer) - l.frozen
	metrics.LedgerBufferedRecords.Set(float64(len(l.buffer)))
	l.mu.Unlock()

	if pending >= l.cfg.BufferSize {
		select {
		case l.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Buffered returns the number of records not yet written.
func (l *Ledger) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// Flush writes the buffered records. On failure the records stay buffered
// and are retried by the next flush.
func (l *Ledger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	n := len(l.buffer)
	if n == 0 {
		l.lastFlush = l.clock.Now()
		l.mu.Unlock()
		return nil
	}
	batch := make([]storage.UsageRecord, n)
	copy(batch, l.buffer)
	l.frozen = n
	l.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, l.cfg.FlushTimeout)
	err := l.store.UpsertRecords(writeCtx, batch)
	cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen = 0
	if err != nil {
		metrics.LedgerFlushesTotal.WithLabelValues("error").Inc()
		l.logger.Error().Err(err).Int("records", n).Msg("Failed to flush usage records, keeping them buffered")
		return fmt.Errorf("flush usage records: %w", err)
	}

	l.buffer = append(l.buffer[:0:0], l.buffer[n:]...)
	l.index = make(map[storage.RecordKey]int, len(l.buffer))
	for i, r := range l.buffer {
		l.index[r.Key()] = i
	}
	l.lastFlush = l.clock.Now()
	l.ranges.Purge()
	metrics.LedgerFlushesTotal.WithLabelValues("ok").Inc()
	metrics.LedgerBufferedRecords.Set(float64(len(l.buffer)))
	l.logger.Debug().Int("records", n).Msg("Flushed usage records")
	return nil
}

// Purge deletes records older than the retention horizon, measured from
// the start of the current day.
func (l *Ledger) Purge(ctx context.Context) (int, error) {
	cutoff := clock.StartOfDay(l.clock.Now().Add(-l.cfg.Retention))
	purgeCtx, cancel := context.WithTimeout(ctx, l.cfg.FlushTimeout)
	defer cancel()

	deleted, err := l.store.DeleteRecordsBefore(purgeCtx, cutoff)
	if err != nil {
		l.logger.Error().Err(err).Time("cutoff", cutoff).Msg("Failed to purge old usage records")
		return 0, err
	}
	if deleted > 0 {
		l.flushMu.Lock()
		l.ranges.Purge()
		l.flushMu.Unlock()
		metrics.LedgerPurgedRecords.Add(float64(deleted))
		l.logger.Info().Int("deleted", deleted).Time("cutoff", cutoff).Msg("Purged old usage records")
	}
	return deleted, nil
}

// Run drives size-, time- and retention-triggered work until ctx is done.
// It does not flush on exit; call Close for the final flush.
func (l *Ledger) Run(ctx context.Context) error {
	check := l.cfg.FlushInterval / 10
	if check < time.Second {
		check = time.Second
	}
	flushTicker := time.NewTicker(check)
	defer flushTicker.Stop()
	purgeTicker := time.NewTicker(l.cfg.PurgeInterval)
	defer purgeTicker.Stop()

	_, _ = l.Purge(ctx)

	l.logger.Info().
		Int("buffer_size", l.cfg.BufferSize).
		Dur("flush_interval", l.cfg.FlushInterval).
		Dur("retention", l.cfg.Retention).
		Msg("Usage ledger started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.flushCh:
			_ = l.Flush(ctx)
		case <-flushTicker.C:
			if l.flushDue() {
				_ = l.Flush(ctx)
			}
		case <-purgeTicker.C:
			_, _ = l.Purge(ctx)
		}
	}
}

// Close performs the final synchronous flush.
func (l *Ledger) Close(ctx context.Context) error {
	err := l.Flush(ctx)
	if err != nil {
		l.logger.Error().Err(err).Int("records", l.Buffered()).Msg("Usage records lost on shutdown")
		return err
	}
	l.logger.Info().Msg("Usage ledger closed")
	return nil
}

func (l *Ledger) flushDue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) == 0 {
		return false
	}
	return l.clock.Now().Sub(l.lastFlush) >= l.cfg.FlushInterval
}
