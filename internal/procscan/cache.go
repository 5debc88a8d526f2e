package procscan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/metrics"
)

const (
	DefaultTTL              = 5 * time.Second
	DefaultEnumerateTimeout = 2 * time.Second
)

// ErrScanInFlight is reported when a previous enumeration has not returned yet.
var ErrScanInFlight = errors.New("procscan: enumeration still in flight")

// Enumerator lists the processes running on the host.
type Enumerator interface {
	Processes(ctx context.Context) ([]Process, error)
}

// Config holds cache tuning.
type Config struct {
	TTL              time.Duration
	EnumerateTimeout time.Duration
	MatchPaths       bool
}

// Cache answers "is any monitored process running" from a snapshot that
// is re-sampled at most once per TTL.
type Cache struct {
	enum   Enumerator
	clock  clock.Clock
	cfg    Config
	logger zerolog.Logger

	current   atomic.Pointer[Snapshot]
	checkedAt atomic.Int64 // unix nanos of the last enumeration attempt
	inFlight  atomic.Bool
	refreshMu sync.Mutex
}

// NewCache creates a cache over enum.
func NewCache(enum Enumerator, clk clock.Clock, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.EnumerateTimeout <= 0 {
		cfg.EnumerateTimeout = DefaultEnumerateTimeout
	}
	return &Cache{
		enum:   enum,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With().Str("component", "procscan").Logger(),
	}
}

// Snapshot returns a snapshot no older than the TTL when the OS allows it.
// When enumeration fails or times out the previous snapshot is returned.
// The result is nil only if no enumeration has ever succeeded.
func (c *Cache) Snapshot(ctx context.Context) *Snapshot {
	now := c.clock.Now()
	if c.fresh(now) {
		return c.current.Load()
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if c.fresh(now) {
		return c.current.Load()
	}

	c.checkedAt.Store(now.UnixNano())
	if err := c.refresh(ctx, now); err != nil {
		prev := c.current.Load()
		ev := c.logger.Warn().Err(err)
		if prev != nil {
			ev = ev.Time("snapshot_at", prev.SampledAt)
		}
		ev.Msg("Process enumeration failed, keeping previous snapshot")
	}
	return c.current.Load()
}

// IsAnyMonitoredRunning reports whether any of monitored (lower-cased) runs.
func (c *Cache) IsAnyMonitoredRunning(ctx context.Context, monitored []string) bool {
	snap := c.Snapshot(ctx)
	if snap == nil {
		return false
	}
	for _, m := range monitored {
		if snap.Matches(m) {
			return true
		}
	}
	return false
}

// RunningMonitored returns the monitored names currently matched, in the
// order given.
func (c *Cache) RunningMonitored(ctx context.Context, monitored []string) []string {
	snap := c.Snapshot(ctx)
	if snap == nil {
		return nil
	}
	var running []string
	for _, m := range monitored {
		if snap.Matches(m) {
			running = append(running, m)
		}
	}
	if running != nil {
		metrics.MonitoredRunning.Set(1)
	} else {
		metrics.MonitoredRunning.Set(0)
	}
	return running
}

// Invalidate forces the next call to re-sample.
func (c *Cache) Invalidate() {
	c.checkedAt.Store(0)
}

func (c *Cache) fresh(now time.Time) bool {
	checked := c.checkedAt.Load()
	if checked == 0 {
		return false
	}
	return now.Sub(time.Unix(0, checked)) < c.cfg.TTL
}

type scanResult struct {
	procs []Process
	err   error
}

// refresh runs one bounded enumeration and swaps the snapshot on success.
// An enumeration that outlives its timeout keeps running in the background;
// no second one starts until it returns.
func (c *Cache) refresh(ctx context.Context, now time.Time) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		metrics.ProcessScansTotal.WithLabelValues("skipped").Inc()
		return ErrScanInFlight
	}

	scanCtx, cancel := context.WithTimeout(ctx, c.cfg.EnumerateTimeout)
	defer cancel()

	started := time.Now()
	done := make(chan scanResult, 1)
	go func() {
		procs, err := c.enum.Processes(scanCtx)
		c.inFlight.Store(false)
		done <- scanResult{procs: procs, err: err}
	}()

	select {
	case res := <-done:
		metrics.ProcessScanDuration.Observe(time.Since(started).Seconds())
		if res.err != nil {
			metrics.ProcessScansTotal.WithLabelValues("error").Inc()
			return res.err
		}
		snap := newSnapshot(now, res.procs, c.cfg.MatchPaths)
		c.current.Store(snap)
		metrics.ProcessScansTotal.WithLabelValues("ok").Inc()
		c.logger.Debug().Int("processes", snap.Len()).Msg("Process snapshot refreshed")
		return nil
	case <-scanCtx.Done():
		metrics.ProcessScansTotal.WithLabelValues("timeout").Inc()
		return scanCtx.Err()
	}
}
