package enforce

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/policy"
)

// EventKind names an achievement-relevant occurrence.
type EventKind string

const (
	EventTimerStarted       EventKind = "timer_started"
	EventBreakTakenOnTime   EventKind = "break_taken_on_time"
	EventForcedBlock        EventKind = "forced_block_occurred"
	EventAttemptDuringRest  EventKind = "attempt_during_rest"
	EventDailyLimitExceeded EventKind = "daily_limit_exceeded"
	EventDailyCheck         EventKind = "daily_check"
)

// Event is delivered to the AchievementTracker.
type Event struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	Time    time.Time `json:"time"`
	Date    time.Time `json:"date"` // local start of day the event belongs to
	Process string    `json:"process,omitempty"`
}

func newEvent(kind EventKind, now time.Time, process string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Time:    now,
		Date:    clock.StartOfDay(now),
		Process: process,
	}
}

// PromptAnswer is the user's reply to an auto-start prompt.
type PromptAnswer string

const (
	PromptYes     PromptAnswer = "yes"
	PromptNo      PromptAnswer = "no"
	PromptTimeout PromptAnswer = "timeout"
)

// Display is the user-facing surface driven by the coordinator.
type Display interface {
	ShowNotification(ctx context.Context, text string) error
	ShowCountdown(ctx context.Context, seconds int) error
	ShowBlock(ctx context.Context) error
	HideBlock(ctx context.Context) error
	// PromptAutoStart asks whether to start a timer. It returns
	// PromptTimeout when ctx expires without an answer.
	PromptAutoStart(ctx context.Context, text string) (PromptAnswer, error)
}

// AchievementTracker consumes coordinator events.
type AchievementTracker interface {
	Handle(ctx context.Context, ev Event) error
}

// Scanner reports which monitored processes are running.
type Scanner interface {
	RunningMonitored(ctx context.Context, monitored []string) []string
	Invalidate()
}

// Ledger is the part of the usage ledger the coordinator needs.
type Ledger interface {
	Record(processName string, durationSeconds int64) error
	DailyTotal(ctx context.Context, date time.Time) int64
	WeeklyTotal(ctx context.Context, weekStart time.Time) int64
}

// PolicyEvaluator decides whether play is allowed right now.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error)
}

type nopDisplay struct{}

func (nopDisplay) ShowNotification(context.Context, string) error { return nil }
func (nopDisplay) ShowCountdown(context.Context, int) error       { return nil }
func (nopDisplay) ShowBlock(context.Context) error                { return nil }
func (nopDisplay) HideBlock(context.Context) error                { return nil }
func (nopDisplay) PromptAutoStart(ctx context.Context, _ string) (PromptAnswer, error) {
	<-ctx.Done()
	return PromptTimeout, nil
}

type nopTracker struct{}

func (nopTracker) Handle(context.Context, Event) error { return nil }
