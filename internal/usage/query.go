package usage

import (
	"context"
	"sort"
	"time"

	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/storage"
)

type rangeKey struct {
	start, end int64
}

// storedRange is a read-only snapshot of the store for one range.
type storedRange struct {
	records  []storage.UsageRecord
	loadedAt time.Time
}

// SessionStats summarises one process over a range.
type SessionStats struct {
	LastSeen     time.Time
	SessionCount int
}

// DailyTotal returns the seconds recorded on date's local calendar day.
func (l *Ledger) DailyTotal(ctx context.Context, date time.Time) int64 {
	start := clock.StartOfDay(date)
	return sum(l.records(ctx, start, start.AddDate(0, 0, 1)))
}

// WeeklyTotal returns the seconds recorded in the seven days from weekStart.
func (l *Ledger) WeeklyTotal(ctx context.Context, weekStart time.Time) int64 {
	start := clock.StartOfDay(weekStart)
	return sum(l.records(ctx, start, start.AddDate(0, 0, 7)))
}

// WeekStart returns the Monday that starts t's week.
func WeekStart(t time.Time) time.Time {
	return clock.WeekStart(t)
}

// PerProcessTotal returns seconds per process on date's calendar day.
func (l *Ledger) PerProcessTotal(ctx context.Context, date time.Time) map[string]int64 {
	start := clock.StartOfDay(date)
	return l.PerProcessRange(ctx, start, start.AddDate(0, 0, 1))
}

// PerProcessRange returns seconds per process in [start, end).
func (l *Ledger) PerProcessRange(ctx context.Context, start, end time.Time) map[string]int64 {
	totals := make(map[string]int64)
	for _, r := range l.records(ctx, start, end) {
		totals[r.ProcessName] += r.DurationSeconds
	}
	return totals
}

// LastSeenAndSessionCount groups records per process in [start, end).
// Consecutive records further apart than gap start a new session; a
// non-positive gap uses the configured default.
func (l *Ledger) LastSeenAndSessionCount(ctx context.Context, start, end time.Time, gap time.Duration) map[string]SessionStats {
	if gap <= 0 {
		gap = l.cfg.SessionGap
	}

	byName := make(map[string][]time.Time)
	for _, r := range l.records(ctx, start, end) {
		byName[r.ProcessName] = append(byName[r.ProcessName], r.Timestamp)
	}

	out := make(map[string]SessionStats, len(byName))
	for name, stamps := range byName {
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
		sessions := 0
		var prev time.Time
		for i, ts := range stamps {
			if i == 0 || ts.Sub(prev) > gap {
				sessions++
			}
			prev = ts
		}
		out[name] = SessionStats{LastSeen: stamps[len(stamps)-1], SessionCount: sessions}
	}
	return out
}

// records merges stored and buffered records in [start, end). Buffered
// records replace stored ones with the same key. A failed read counts the
// stored portion as empty.
func (l *Ledger) records(ctx context.Context, start, end time.Time) []storage.UsageRecord {
	// Holding flushMu keeps a record from being seen both in the
	// buffer and in the store.
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	stored := l.storedLocked(ctx, start, end)

	merged := make(map[storage.RecordKey]storage.UsageRecord, len(stored))
	for _, r := range stored {
		merged[r.Key()] = r
	}

	l.mu.Lock()
	for _, r := range l.buffer {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		merged[r.Key()] = r
	}
	l.mu.Unlock()

	out := make([]storage.UsageRecord, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	storage.SortRecords(out)
	return out
}

// storedLocked returns the stored records in [start, end), from the range
// cache when the snapshot is still fresh. Failed reads are not cached.
// The caller holds flushMu.
func (l *Ledger) storedLocked(ctx context.Context, start, end time.Time) []storage.UsageRecord {
	key := rangeKey{start: start.UnixNano(), end: end.UnixNano()}
	now := l.clock.Now()
	if hit, ok := l.ranges.Get(key); ok && !now.Before(hit.loadedAt) && now.Sub(hit.loadedAt) < l.cfg.FlushInterval {
		return hit.records
	}

	readCtx, cancel := context.WithTimeout(ctx, l.cfg.FlushTimeout)
	stored, err := l.store.ListRecords(readCtx, start, end)
	cancel()
	if err != nil {
		l.logger.Warn().Err(err).Time("start", start).Time("end", end).Msg("Failed to read usage records")
		return nil
	}
	l.ranges.Add(key, storedRange{records: stored, loadedAt: now})
	return stored
}

func sum(records []storage.UsageRecord) int64 {
	var total int64
	for _, r := range records {
		total += r.DurationSeconds
	}
	return total
}
