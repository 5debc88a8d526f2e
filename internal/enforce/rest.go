package enforce

import (
	"context"
	"time"

	"github.com/zinwlad/game-timer/internal/metrics"
	"github.com/zinwlad/game-timer/internal/storage"
)

func (c *Coordinator) restActiveLocked(now time.Time) bool {
	return c.rest != nil && now.Before(c.rest.Until)
}

// extendRestLocked opens or lengthens the rest period. An active rest that
// already reaches until is left unchanged, so rest periods never shrink.
func (c *Coordinator) extendRestLocked(until time.Time, reason storage.RestReason) bool {
	until = until.Truncate(time.Second)
	if c.rest != nil && !until.After(c.rest.Until) {
		c.logger.Debug().
			Time("until", until).
			Time("current", c.rest.Until).
			Str("reason", string(reason)).
			Msg("Existing rest period already covers request")
		return false
	}

	next := &storage.RestPeriod{Until: until, Reason: reason}
	if c.rest != nil {
		next.LimitReachedOn = c.rest.LimitReachedOn
	}
	c.rest = next
	c.restDirty = true
	metrics.RestPeriodsStarted.WithLabelValues(string(reason)).Inc()
	c.logger.Info().Time("until", until).Str("reason", string(reason)).Msg("Rest period started")
	return true
}

// markLimitReachedLocked records on the active rest that the daily limit
// fired on day, whatever reason the rest ends up carrying.
func (c *Coordinator) markLimitReachedLocked(day time.Time) {
	if c.rest == nil || c.rest.LimitReachedOn.Equal(day) {
		return
	}
	c.rest.LimitReachedOn = day
	c.restDirty = true
}

func (c *Coordinator) expireRestLocked(now time.Time) {
	if c.rest == nil || now.Before(c.rest.Until) {
		return
	}
	c.logger.Info().Str("reason", string(c.rest.Reason)).Msg("Rest period ended")
	c.rest = nil
	c.restDirty = true
}

// persistRestLocked writes a changed rest period. A failed write is retried
// on the next tick.
func (c *Coordinator) persistRestLocked(ctx context.Context) {
	if !c.restDirty {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var err error
	if c.rest == nil {
		err = c.deps.State.ClearRestPeriod(ctx)
	} else {
		err = c.deps.State.PutRestPeriod(ctx, *c.rest)
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist rest period")
		return
	}
	c.restDirty = false
}
