package enforce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/metrics"
	"github.com/zinwlad/game-timer/internal/policy"
	"github.com/zinwlad/game-timer/internal/storage"
	"github.com/zinwlad/game-timer/internal/timer"
)

// State is the escalation state of the coordinator.
type State int

const (
	Idle State = iota
	GraceNotified
	Blocking
	Blocked
	Resting
)

var stateNames = [...]string{"idle", "grace_notified", "blocking", "blocked", "resting"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrRestActive       = errors.New("enforce: rest period active")
	ErrBlocked          = errors.New("enforce: escalation in progress")
	ErrNotBlocked       = errors.New("enforce: not blocked")
	ErrExtensionLimit   = errors.New("enforce: extension limit reached")
	ErrExtensionTooSoon = errors.New("enforce: extension requested too soon")
	ErrInvalidExtension = errors.New("enforce: extension must be positive")
	ErrNotCountdown     = errors.New("enforce: timer is not a countdown")
)

const (
	storeTimeout = 5 * time.Second

	sourceTimer   = "timer"
	sourcePassive = "passive"
)

// Deps are the collaborators of a Coordinator. Scanner, Ledger and State
// are required; a nil Display, Tracker or Policy disables that feature.
type Deps struct {
	Clock   clock.Clock
	Scanner Scanner
	Ledger  Ledger
	State   storage.StateStore
	Display Display
	Tracker AchievementTracker
	Policy  PolicyEvaluator
}

// Status is a consistent copy of the coordinator's state.
type Status struct {
	State      State
	Rest       *storage.RestPeriod
	Timer      timer.State
	DailyLimit time.Duration
	Extensions int
}

type accrualKey struct {
	process string
	source  string
}

// Coordinator runs the enforcement state machine on a fixed tick.
type Coordinator struct {
	deps     Deps
	clock    clock.Clock
	timer    *timer.Engine
	dispatch *dispatcher
	logger   zerolog.Logger

	promptResults chan promptResult
	intervalCh    chan time.Duration
	closed        chan struct{}
	closeOnce     sync.Once

	mu         sync.Mutex
	settings   Settings
	dailyLimit time.Duration
	state      State
	rest       *storage.RestPeriod
	restDirty  bool
	timerDirty bool

	graceUntil    time.Time
	graceProcess  string
	blockingUntil time.Time
	blockedAt     time.Time
	resumeBlock   bool // restored timer had already expired

	today          time.Time
	limitFiredFor  time.Time
	lastTick       time.Time
	lastAccounting time.Time
	pending        map[accrualKey]time.Duration

	autoPaused    bool
	extensions    int
	lastExtension time.Time

	prompt promptState
}

// New creates a coordinator and restores any persisted rest period and
// timer state.
func New(deps Deps, settings Settings, logger zerolog.Logger) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Display == nil {
		deps.Display = nopDisplay{}
	}
	if deps.Tracker == nil {
		deps.Tracker = nopTracker{}
	}
	settings = settings.withDefaults()
	log := logger.With().Str("component", "enforce").Logger()

	c := &Coordinator{
		deps:          deps,
		clock:         deps.Clock,
		timer:         timer.New(deps.Clock),
		dispatch:      newDispatcher(settings.CollaboratorTimeout, log),
		logger:        log,
		promptResults: make(chan promptResult, 1),
		intervalCh:    make(chan time.Duration, 1),
		closed:        make(chan struct{}),
		settings:      settings,
		dailyLimit:    settings.DailyLimit,
		pending:       make(map[accrualKey]time.Duration),
	}
	c.restore()
	setStateGauge(c.state)
	return c
}

func (c *Coordinator) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	now := c.clock.Now()

	rest, err := c.deps.State.GetRestPeriod(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		c.logger.Warn().Err(err).Msg("Failed to read persisted rest period")
	case now.Before(rest.Until):
		c.rest = rest
		c.state = Resting
		if today := clock.StartOfDay(now); rest.LimitReachedOn.Equal(today) || rest.Reason == storage.RestDailyLimitExceeded {
			c.limitFiredFor = today
		}
		c.logger.Info().Time("until", rest.Until).Str("reason", string(rest.Reason)).Msg("Restored rest period")
	default:
		if err := c.deps.State.ClearRestPeriod(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to clear expired rest period")
		}
	}

	ts, err := c.deps.State.GetTimerState(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		c.logger.Warn().Err(err).Msg("Failed to read persisted timer state")
	default:
		if err := c.timer.Restore(fromStorage(*ts)); err != nil {
			c.logger.Warn().Err(err).Msg("Ignoring invalid persisted timer state")
			return
		}
		st := c.timer.State()
		c.resumeBlock = st.Expired
		if st.Running || st.Expired {
			c.logger.Info().
				Str("mode", string(st.Mode)).
				Int64("remaining", st.RemainingSeconds).
				Int64("elapsed", st.ElapsedSeconds).
				Msg("Restored timer")
		}
	}
}

// Run ticks until ctx is cancelled or Close is called.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	interval := c.settings.TickInterval
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info().Dur("tick_interval", interval).Msg("Enforcement loop started")
	c.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Enforcement loop stopped")
			return nil
		case <-c.closed:
			return nil
		case iv := <-c.intervalCh:
			ticker.Reset(iv)
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick evaluates one step of the state machine.
func (c *Coordinator) Tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(started).Seconds())
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.rolloverLocked(now)

	running := c.deps.Scanner.RunningMonitored(ctx, c.settings.Processes)

	c.drainPromptLocked(now, running)
	c.advanceTimerLocked(now)
	c.autoPauseLocked(len(running) > 0)
	c.expireRestLocked(now)
	c.checkDailyLimitLocked(ctx, now)
	if len(running) > 0 {
		c.checkPolicyLocked(ctx, now, running)
	}
	c.accountLocked(now, running)
	c.stepLocked(now, running)
	c.maybePromptLocked(now, running)
	c.persistRestLocked(ctx)
	c.persistTimerLocked(ctx)
}

func (c *Coordinator) rolloverLocked(now time.Time) {
	day := clock.StartOfDay(now)
	if day.Equal(c.today) {
		return
	}
	c.today = day
	c.emit(newEvent(EventDailyCheck, now, ""))
}

func (c *Coordinator) advanceTimerLocked(now time.Time) {
	for n := c.timer.Owed(now); n > 0; n-- {
		if c.timer.Tick() {
			c.timerDirty = true
			c.logger.Info().Msg("Timer expired")
			return
		}
	}
}

// autoPauseLocked pauses a count-up timer while no monitored process runs
// and resumes it when one returns, unless the user paused it.
func (c *Coordinator) autoPauseLocked(anyRunning bool) {
	if !c.settings.AutoPauseCountUp {
		return
	}
	st := c.timer.State()
	if st.Mode != timer.CountUp || !st.Running {
		c.autoPaused = false
		return
	}
	switch {
	case !anyRunning && !st.Paused:
		if err := c.timer.Pause(); err == nil {
			c.autoPaused = true
			c.logger.Info().Msg("No monitored process running, count-up timer paused")
		}
	case anyRunning && st.Paused && c.autoPaused:
		if err := c.timer.Resume(); err == nil {
			c.autoPaused = false
			c.logger.Info().Msg("Monitored process back, count-up timer resumed")
		}
	}
}

func (c *Coordinator) checkDailyLimitLocked(ctx context.Context, now time.Time) {
	if c.dailyLimit <= 0 {
		return
	}
	day := clock.StartOfDay(now)
	if c.limitFiredFor.Equal(day) {
		return
	}
	total := c.deps.Ledger.DailyTotal(ctx, now) + c.pendingSecondsLocked()
	if total < int64(c.dailyLimit/time.Second) {
		return
	}

	c.limitFiredFor = day
	c.logger.Warn().Int64("today_seconds", total).Dur("limit", c.dailyLimit).Msg("Daily limit reached")
	c.extendRestLocked(clock.NextMidnight(now), storage.RestDailyLimitExceeded)
	c.markLimitReachedLocked(day)
	c.emit(newEvent(EventDailyLimitExceeded, now, ""))
	c.notify(fmt.Sprintf("Daily limit of %s reached. Games are blocked until midnight.", formatDuration(c.dailyLimit)))
}

func (c *Coordinator) checkPolicyLocked(ctx context.Context, now time.Time, running []string) {
	if c.deps.Policy == nil || c.restActiveLocked(now) {
		return
	}

	in := policy.Input{
		Time:              now,
		TodaySeconds:      c.deps.Ledger.DailyTotal(ctx, now) + c.pendingSecondsLocked(),
		WeeklySeconds:     c.deps.Ledger.WeeklyTotal(ctx, clock.WeekStart(now)),
		DailyLimitSeconds: int64(c.dailyLimit / time.Second),
		Running:           running,
	}
	decision, err := c.deps.Policy.Evaluate(ctx, in)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Play policy evaluation failed, allowing")
		return
	}
	if decision.Allow {
		return
	}

	if c.extendRestLocked(now.Add(c.settings.Cooldown), storage.RestPolicyRestricted) {
		c.logger.Info().Str("reason", decision.Reason).Strs("running", running).Msg("Play policy denied")
		c.notify(fmt.Sprintf("Playing is not allowed right now (%s).", decision.Reason))
	}
}

// accountLocked accrues wall-clock time for running monitored processes
// and writes it to the ledger every accounting interval. Time is attributed
// to the timer while it is active and to passive accounting otherwise, never
// to both.
func (c *Coordinator) accountLocked(now time.Time, running []string) {
	if c.lastTick.IsZero() {
		c.lastTick = now
		c.lastAccounting = now
		return
	}

	elapsed := now.Sub(c.lastTick)
	c.lastTick = now
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > 3*c.settings.TickInterval {
		c.logger.Debug().Dur("gap", elapsed).Msg("Tick gap too large, accruing one interval")
		elapsed = c.settings.TickInterval
	}

	if len(running) > 0 && elapsed > 0 {
		source := sourcePassive
		if c.timer.State().Active() {
			source = sourceTimer
		}
		for _, name := range running {
			c.pending[accrualKey{process: name, source: source}] += elapsed
		}
	}

	if now.Sub(c.lastAccounting) >= c.settings.AccountingInterval {
		c.flushAccrualLocked()
		c.lastAccounting = now
	}
}

func (c *Coordinator) flushAccrualLocked() {
	for key, d := range c.pending {
		secs := int64(d / time.Second)
		if secs <= 0 {
			continue
		}
		if err := c.deps.Ledger.Record(key.process, secs); err != nil {
			c.logger.Warn().Err(err).Str("process", key.process).Int64("seconds", secs).Msg("Failed to record usage")
			delete(c.pending, key)
			continue
		}
		metrics.UsageSecondsRecorded.WithLabelValues(key.process, key.source).Add(float64(secs))
		if rem := d - time.Duration(secs)*time.Second; rem > 0 {
			c.pending[key] = rem
		} else {
			delete(c.pending, key)
		}
	}
}

func (c *Coordinator) pendingSecondsLocked() int64 {
	var total time.Duration
	for _, d := range c.pending {
		total += d
	}
	return int64(total / time.Second)
}

func (c *Coordinator) stepLocked(now time.Time, running []string) {
	anyRunning := len(running) > 0

	switch c.state {
	case Idle:
		if c.restActiveLocked(now) {
			c.setStateLocked(Resting)
			c.restingLocked(now, running)
			return
		}
		if !c.timer.State().Expired {
			return
		}
		if c.resumeBlock {
			if anyRunning {
				c.logger.Warn().Strs("running", running).Msg("Timer ran out before restart, resuming block")
				c.beginBlockingLocked(now)
				return
			}
			c.resetTimerLocked()
			c.logger.Info().Msg("Cleared timer that ran out before restart")
			return
		}
		if !anyRunning {
			c.resetTimerLocked()
			c.logger.Info().Msg("Timer finished with no monitored process running")
			c.emit(newEvent(EventBreakTakenOnTime, now, ""))
			return
		}
		c.graceUntil = now.Add(c.settings.GracePeriod)
		c.graceProcess = running[0]
		c.setStateLocked(GraceNotified)
		c.notify(fmt.Sprintf("Time is up! Close %s within %d seconds.", running[0], int(c.settings.GracePeriod/time.Second)))

	case GraceNotified:
		if !anyRunning {
			c.logger.Info().Str("process", c.graceProcess).Msg("Monitored process closed within grace period")
			c.resetTimerLocked()
			c.emit(newEvent(EventBreakTakenOnTime, now, c.graceProcess))
			c.setStateLocked(Idle)
			return
		}
		if now.Before(c.graceUntil) {
			return
		}
		c.logger.Warn().Strs("running", running).Msg("Grace period elapsed, blocking")
		c.emit(newEvent(EventForcedBlock, now, running[0]))
		c.beginBlockingLocked(now)

	case Blocking:
		c.blockingStepLocked(now)

	case Blocked:
		if c.settings.AutoUnlockAfter > 0 && !now.Before(c.blockedAt.Add(c.settings.AutoUnlockAfter)) {
			c.logger.Info().Dur("after", c.settings.AutoUnlockAfter).Msg("Block auto-resolved")
			c.unlockLocked(now)
		}

	case Resting:
		c.restingLocked(now, running)
	}
}

func (c *Coordinator) restingLocked(now time.Time, running []string) {
	if !c.restActiveLocked(now) {
		c.setStateLocked(Idle)
		return
	}
	if len(running) == 0 {
		return
	}
	c.logger.Warn().Strs("running", running).Time("until", c.rest.Until).Msg("Monitored process started during rest period")
	c.emit(newEvent(EventAttemptDuringRest, now, running[0]))
	c.notify(fmt.Sprintf("Rest period until %s. %s is not allowed now.", c.rest.Until.Format("15:04"), running[0]))
	c.beginBlockingLocked(now)
}

// beginBlockingLocked starts the block countdown. An expired timer is left
// expired until unlock so that a restart resumes the block.
func (c *Coordinator) beginBlockingLocked(now time.Time) {
	if !c.timer.State().Expired {
		c.resetTimerLocked()
	}
	c.resumeBlock = false
	c.autoPaused = false
	c.blockingUntil = now.Add(c.settings.BlockDelay)
	c.setStateLocked(Blocking)

	if secs := int(c.settings.BlockDelay / time.Second); secs > 0 {
		c.submitDisplay("show_countdown", func(ctx context.Context) error {
			return c.deps.Display.ShowCountdown(ctx, secs)
		})
	}
	c.blockingStepLocked(now)
}

func (c *Coordinator) blockingStepLocked(now time.Time) {
	if now.Before(c.blockingUntil) {
		return
	}
	c.blockedAt = now
	c.setStateLocked(Blocked)
	c.submitDisplay("show_block", c.deps.Display.ShowBlock)
}

func (c *Coordinator) unlockLocked(now time.Time) {
	c.submitDisplay("hide_block", c.deps.Display.HideBlock)
	c.resetTimerLocked()
	if c.settings.CooldownEnabled && c.settings.Cooldown > 0 {
		c.extendRestLocked(now.Add(c.settings.Cooldown), storage.RestPostBlockCooldown)
	}
	if c.restActiveLocked(now) {
		c.setStateLocked(Resting)
	} else {
		c.setStateLocked(Idle)
	}
}

func (c *Coordinator) resetTimerLocked() {
	c.timer.Reset()
	c.autoPaused = false
	c.resumeBlock = false
	c.timerDirty = true
}

// persistTimerLocked writes the timer after it expires or stops, so an
// escalation survives a crash as well as a clean shutdown.
func (c *Coordinator) persistTimerLocked(ctx context.Context) {
	if !c.timerDirty {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := c.deps.State.PutTimerState(ctx, toStorage(c.timer.State(), c.clock.Now())); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist timer state")
		return
	}
	c.timerDirty = false
}

func (c *Coordinator) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	metrics.EnforcementTransitions.WithLabelValues(from.String(), to.String()).Inc()
	setStateGauge(to)
	c.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("State transition")
}

func setStateGauge(current State) {
	for i := range stateNames {
		v := 0.0
		if State(i) == current {
			v = 1
		}
		metrics.EnforcementState.WithLabelValues(stateNames[i]).Set(v)
	}
}

func (c *Coordinator) emit(ev Event) {
	tracker := c.deps.Tracker
	c.logger.Debug().Str("event", string(ev.Kind)).Str("id", ev.ID).Msg("Emitting event")
	c.dispatch.submit(call{
		collaborator: "achievement",
		name:         string(ev.Kind),
		fn: func(ctx context.Context) error {
			return tracker.Handle(ctx, ev)
		},
	})
}

func (c *Coordinator) notify(text string) {
	c.submitDisplay("show_notification", func(ctx context.Context) error {
		return c.deps.Display.ShowNotification(ctx, text)
	})
}

func (c *Coordinator) submitDisplay(name string, fn func(ctx context.Context) error) {
	c.dispatch.submit(call{collaborator: "display", name: name, fn: fn})
}

// StartTimer starts a manual timer run.
func (c *Coordinator) StartTimer(seconds int64, mode timer.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.restActiveLocked(now) {
		return fmt.Errorf("%w until %s", ErrRestActive, c.rest.Until.Format(time.RFC3339))
	}
	if c.state != Idle && c.state != Resting {
		return fmt.Errorf("%w: %s", ErrBlocked, c.state)
	}
	return c.startTimerLocked(now, seconds, mode)
}

// StartDefaultTimer starts the configured default duration and mode.
func (c *Coordinator) StartDefaultTimer() error {
	c.mu.Lock()
	secs := int64(c.settings.DefaultDuration / time.Second)
	mode := c.settings.DefaultMode
	c.mu.Unlock()
	return c.StartTimer(secs, mode)
}

func (c *Coordinator) startTimerLocked(now time.Time, seconds int64, mode timer.Mode) error {
	if err := c.timer.Start(seconds, mode); err != nil {
		return err
	}
	c.extensions = 0
	c.lastExtension = time.Time{}
	c.autoPaused = false
	c.resumeBlock = false
	c.prompt.attempts = 0
	c.prompt.nextAt = time.Time{}

	c.logger.Info().Int64("seconds", seconds).Str("mode", string(mode)).Msg("Timer started")
	c.emit(newEvent(EventTimerStarted, now, ""))
	return nil
}

// PauseTimer pauses the running timer.
func (c *Coordinator) PauseTimer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.timer.Pause(); err != nil {
		return err
	}
	c.autoPaused = false
	c.logger.Info().Msg("Timer paused")
	return nil
}

// ResumeTimer resumes a paused timer.
func (c *Coordinator) ResumeTimer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.restActiveLocked(c.clock.Now()) {
		return ErrRestActive
	}
	if err := c.timer.Resume(); err != nil {
		return err
	}
	c.autoPaused = false
	c.logger.Info().Msg("Timer resumed")
	return nil
}

// ResetTimer stops the timer. It is refused during grace and blocking,
// where the expired timer holds the escalation until unlock.
func (c *Coordinator) ResetTimer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle && c.state != Resting {
		return fmt.Errorf("%w: %s", ErrBlocked, c.state)
	}
	c.resetTimerLocked()
	c.extensions = 0
	c.logger.Info().Msg("Timer reset")
	return nil
}

// ExtendTimer adds minutes to a running countdown.
func (c *Coordinator) ExtendTimer(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidExtension, minutes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.restActiveLocked(now) {
		return ErrRestActive
	}
	st := c.timer.State()
	if !st.Running {
		return timer.ErrNotRunning
	}
	if st.Mode != timer.Countdown {
		return ErrNotCountdown
	}
	if c.extensions >= c.settings.MaxExtensions {
		return fmt.Errorf("%w: %d of %d used", ErrExtensionLimit, c.extensions, c.settings.MaxExtensions)
	}
	if !c.lastExtension.IsZero() && now.Sub(c.lastExtension) < c.settings.ExtensionCooldown {
		return fmt.Errorf("%w: wait %s", ErrExtensionTooSoon, (c.settings.ExtensionCooldown - now.Sub(c.lastExtension)).Round(time.Second))
	}
	if err := c.timer.AddSeconds(int64(minutes) * 60); err != nil {
		return err
	}
	c.extensions++
	c.lastExtension = now
	c.logger.Info().Int("minutes", minutes).Int("extensions", c.extensions).Msg("Timer extended")
	return nil
}

// AdjustDailyLimit changes the limit in effect until the next reload and
// returns the new value. The limit never goes below zero.
func (c *Coordinator) AdjustDailyLimit(delta time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := c.dailyLimit + delta
	if limit < 0 {
		limit = 0
	}
	c.dailyLimit = limit
	if delta > 0 {
		c.limitFiredFor = time.Time{}
	}
	c.logger.Info().Dur("limit", limit).Msg("Daily limit adjusted")
	return limit
}

// UnlockRequested ends a full block.
func (c *Coordinator) UnlockRequested() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Blocked {
		return fmt.Errorf("%w: %s", ErrNotBlocked, c.state)
	}
	c.logger.Info().Msg("Unlock requested")
	c.unlockLocked(c.clock.Now())
	c.persistRestLocked(context.Background())
	c.persistTimerLocked(context.Background())
	return nil
}

// MonitoredAppClosed reports that the user closed the game during the
// grace window. The next tick re-scans instead of using the cached
// snapshot and confirms it.
func (c *Coordinator) MonitoredAppClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != GraceNotified {
		return
	}
	c.deps.Scanner.Invalidate()
	c.logger.Debug().Msg("Display reported monitored process closed")
}

// ApplySettings swaps in a new settings snapshot. Daily-limit adjustments
// are discarded. A limit that already fired today fires again only if the
// new limit is higher.
func (c *Coordinator) ApplySettings(s Settings) {
	s = s.withDefaults()

	c.mu.Lock()
	old := c.settings.TickInterval
	c.settings = s
	if s.DailyLimit > c.dailyLimit {
		c.limitFiredFor = time.Time{}
	}
	c.dailyLimit = s.DailyLimit
	c.dispatch.setTimeout(s.CollaboratorTimeout)
	c.mu.Unlock()

	if s.TickInterval != old {
		select {
		case c.intervalCh <- s.TickInterval:
		default:
		}
	}
	c.logger.Info().Strs("processes", s.Processes).Dur("daily_limit", s.DailyLimit).Msg("Settings applied")
}

// State returns the current escalation state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rest returns the active rest period, or nil.
func (c *Coordinator) Rest() *storage.RestPeriod {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.restActiveLocked(c.clock.Now()) {
		return nil
	}
	rest := *c.rest
	return &rest
}

// Status returns a copy of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:      c.state,
		Timer:      c.timer.State(),
		DailyLimit: c.dailyLimit,
		Extensions: c.extensions,
	}
	if c.restActiveLocked(c.clock.Now()) {
		rest := *c.rest
		st.Rest = &rest
	}
	return st
}

// Close writes pending usage to the ledger, persists the rest period and
// timer state, and drains queued collaborator calls. The ledger itself is
// flushed by its owner.
func (c *Coordinator) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.flushAccrualLocked()

		sctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		c.restDirty = true
		c.persistRestLocked(sctx)
		if c.restDirty {
			err = errors.New("failed to persist rest period")
		}
		ts := toStorage(c.timer.State(), c.clock.Now())
		if perr := c.deps.State.PutTimerState(sctx, ts); perr != nil {
			err = errors.Join(err, fmt.Errorf("failed to persist timer state: %w", perr))
		}
		cancel()
		c.mu.Unlock()

		close(c.closed)
		c.dispatch.stop(ctx)
		c.logger.Info().Msg("Coordinator closed")
	})
	return err
}

func toStorage(s timer.State, now time.Time) storage.TimerState {
	return storage.TimerState{
		Mode:             storage.TimerMode(s.Mode),
		InitialSeconds:   s.InitialSeconds,
		RemainingSeconds: s.RemainingSeconds,
		ElapsedSeconds:   s.ElapsedSeconds,
		Running:          s.Running,
		Paused:           s.Paused,
		Expired:          s.Expired,
		SavedAt:          now,
	}
}

func fromStorage(s storage.TimerState) timer.State {
	return timer.State{
		Mode:             timer.Mode(s.Mode),
		InitialSeconds:   s.InitialSeconds,
		RemainingSeconds: s.RemainingSeconds,
		ElapsedSeconds:   s.ElapsedSeconds,
		Running:          s.Running,
		Paused:           s.Paused,
		Expired:          s.Expired,
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
