package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zinwlad/game-timer/internal/clock"
)

// Mode selects countdown or count-up behaviour.
type Mode string

const (
	Countdown Mode = "countdown"
	CountUp   Mode = "countup"
)

var (
	ErrNegativeDuration = errors.New("timer: negative duration")
	ErrUnknownMode      = errors.New("timer: unknown mode")
	ErrNotRunning       = errors.New("timer: not running")
	ErrAlreadyPaused    = errors.New("timer: already paused")
	ErrNotPaused        = errors.New("timer: not paused")
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Countdown, CountUp:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// State is a point-in-time copy of the timer.
type State struct {
	Mode             Mode
	InitialSeconds   int64
	RemainingSeconds int64
	ElapsedSeconds   int64
	Running          bool
	Paused           bool
	Expired          bool
	StartedAt        time.Time
}

// Stopped reports whether the timer holds no run at all.
func (s State) Stopped() bool {
	return !s.Running && !s.Expired
}

// Active reports whether the timer is running and not paused.
func (s State) Active() bool {
	return s.Running && !s.Paused
}

// Engine is a countdown/count-up timer advanced one second per Tick.
// Reads are safe from any goroutine; writes are expected from the
// coordinator goroutine.
type Engine struct {
	mu    sync.RWMutex
	clock clock.Clock

	mode      Mode
	initial   int64
	remaining int64
	elapsed   int64
	running   bool
	paused    bool
	expired   bool

	// Wall-clock bookkeeping used by Owed.
	startedAt          time.Time
	elapsedBeforePause time.Duration
	applied            int64
}

// New creates a stopped timer.
func New(clk clock.Clock) *Engine {
	return &Engine{clock: clk}
}

// Start begins a new run. A countdown of zero seconds expires immediately.
func (e *Engine) Start(initialSeconds int64, mode Mode) error {
	if initialSeconds < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeDuration, initialSeconds)
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.clearLocked()
	e.mode = mode
	e.initial = initialSeconds
	e.running = true
	e.startedAt = e.clock.Now()
	if mode == Countdown {
		e.remaining = initialSeconds
		if initialSeconds == 0 {
			e.running = false
			e.expired = true
		}
	}
	return nil
}

// Pause freezes the run, keeping the wall time already accrued.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if e.paused {
		return ErrAlreadyPaused
	}
	e.elapsedBeforePause += e.clock.Now().Sub(e.startedAt)
	e.paused = true
	return nil
}

// Resume continues a paused run.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if !e.paused {
		return ErrNotPaused
	}
	e.startedAt = e.clock.Now()
	e.paused = false
	return nil
}

// Reset returns the timer to Stopped from any state.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.clearLocked()
	e.mu.Unlock()
}

// Tick advances the run by one second. It returns true on the tick that
// makes a countdown expire and false on every other call.
func (e *Engine) Tick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.paused {
		return false
	}
	e.applied++

	if e.mode == CountUp {
		e.elapsed++
		return false
	}

	if e.remaining > 0 {
		e.remaining--
	}
	e.elapsed++
	if e.remaining == 0 {
		e.running = false
		e.expired = true
		return true
	}
	return false
}

// Owed returns how many whole seconds of unpaused wall time since Start
// have not been applied by Tick yet.
func (e *Engine) Owed(now time.Time) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.running {
		return 0
	}
	wall := e.elapsedBeforePause
	if !e.paused {
		wall += now.Sub(e.startedAt)
	}
	owed := int64(wall/time.Second) - e.applied
	if owed < 0 {
		return 0
	}
	return owed
}

// AddSeconds adjusts the remaining (countdown) or elapsed (count-up) time
// of a running timer. A countdown never goes below zero; reaching zero
// this way expires on the next Tick.
func (e *Engine) AddSeconds(delta int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if e.mode == CountUp {
		e.elapsed += delta
		if e.elapsed < 0 {
			e.elapsed = 0
		}
		return nil
	}
	e.remaining += delta
	if e.remaining < 0 {
		e.remaining = 0
	}
	return nil
}

// State returns a copy of the current timer state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return State{
		Mode:             e.mode,
		InitialSeconds:   e.initial,
		RemainingSeconds: e.remaining,
		ElapsedSeconds:   e.elapsed,
		Running:          e.running,
		Paused:           e.paused,
		Expired:          e.expired,
		StartedAt:        e.startedAt,
	}
}

// Restore loads a previously saved state. Time spent while the process was
// down is not counted.
func (e *Engine) Restore(s State) error {
	if s.Mode != "" {
		if _, err := ParseMode(string(s.Mode)); err != nil {
			return err
		}
	}
	if s.InitialSeconds < 0 || s.RemainingSeconds < 0 || s.ElapsedSeconds < 0 {
		return ErrNegativeDuration
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.clearLocked()
	if !s.Running && !s.Expired {
		return nil
	}
	e.mode = s.Mode
	e.initial = s.InitialSeconds
	e.remaining = s.RemainingSeconds
	e.elapsed = s.ElapsedSeconds
	e.running = s.Running
	e.paused = s.Running && s.Paused
	e.expired = !s.Running && s.Expired
	e.startedAt = e.clock.Now()
	return nil
}

func (e *Engine) clearLocked() {
	e.mode = ""
	e.initial = 0
	e.remaining = 0
	e.elapsed = 0
	e.running = false
	e.paused = false
	e.expired = false
	e.startedAt = time.Time{}
	e.elapsedBeforePause = 0
	e.applied = 0
}
