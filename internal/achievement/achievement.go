package achievement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/enforce"
)

// ID identifies an achievement.
type ID string

const (
	FirstTimer       ID = "first_timer"
	TimeMaster       ID = "time_master"
	BreakChampion    ID = "break_champion"
	DisciplineMaster ID = "discipline_master"
	DailyHero        ID = "daily_hero"
	WeeklyMaster     ID = "weekly_master"
	RestRespecter    ID = "rest_respecter"
)

const seenEvents = 512

// Definition describes an achievement and its target progress.
type Definition struct {
	ID          ID
	Title       string
	Description string
	Target      int
}

var definitions = []Definition{
	{FirstTimer, "First steps", "Start the timer for the first time", 1},
	{TimeMaster, "Time master", "Use the timer 10 times", 10},
	{BreakChampion, "Break champion", "Stop playing on time 10 times", 10},
	{DisciplineMaster, "Discipline master", "Go 7 days in a row without a forced block", 7},
	{DailyHero, "Daily hero", "Use the timer 5 days in a row", 5},
	{WeeklyMaster, "Weekly master", "Use the timer every day for a week", 7},
	{RestRespecter, "Rest respecter", "Respect the daily limit rest 3 times", 3},
}

// Definitions returns every known achievement.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

// Achievement is a definition plus its progress.
type Achievement struct {
	Definition
	Progress    int
	Completed   bool
	CompletedAt time.Time
}

// Notifier is told about unlocked achievements.
type Notifier interface {
	ShowNotification(ctx context.Context, text string) error
}

// Tracker keeps achievement progress in memory and implements
// enforce.AchievementTracker.
type Tracker struct {
	logger   zerolog.Logger
	notifier Notifier
	seen     *lru.Cache[string, struct{}]

	mu         sync.Mutex
	progress   map[ID]*Achievement
	lastActive time.Time
	streak     int
	clean      int
	violated   bool
	limitHit   bool
}

// NewTracker creates a tracker. notifier may be nil.
func NewTracker(notifier Notifier, logger zerolog.Logger) *Tracker {
	seen, err := lru.New[string, struct{}](seenEvents)
	if err != nil {
		panic(fmt.Sprintf("achievement: lru: %v", err))
	}
	t := &Tracker{
		logger:   logger.With().Str("component", "achievement").Logger(),
		notifier: notifier,
		seen:     seen,
		progress: make(map[ID]*Achievement, len(definitions)),
	}
	for _, def := range definitions {
		t.progress[def.ID] = &Achievement{Definition: def}
	}
	return t
}

// Handle applies one coordinator event. Events are de-duplicated by ID.
func (t *Tracker) Handle(ctx context.Context, ev enforce.Event) error {
	if ev.ID != "" {
		if ok, _ := t.seen.ContainsOrAdd(ev.ID, struct{}{}); ok {
			return nil
		}
	}

	t.mu.Lock()
	var unlocked []Achievement
	switch ev.Kind {
	case enforce.EventTimerStarted:
		unlocked = t.addLocked(unlocked, FirstTimer, 1, ev.Time)
		unlocked = t.addLocked(unlocked, TimeMaster, 1, ev.Time)
	case enforce.EventBreakTakenOnTime:
		unlocked = t.addLocked(unlocked, BreakChampion, 1, ev.Time)
	case enforce.EventForcedBlock, enforce.EventAttemptDuringRest:
		t.violated = true
	case enforce.EventDailyLimitExceeded:
		t.limitHit = true
	case enforce.EventDailyCheck:
		unlocked = t.dailyCheckLocked(unlocked, ev)
	}
	t.mu.Unlock()

	var errs []error
	for _, a := range unlocked {
		t.logger.Info().Str("achievement", string(a.ID)).Str("title", a.Title).Msg("Achievement unlocked")
		if t.notifier == nil {
			continue
		}
		if err := t.notifier.ShowNotification(ctx, "Achievement unlocked: "+a.Title); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dailyCheckLocked closes out the previous active day and updates the
// streak-based achievements.
func (t *Tracker) dailyCheckLocked(unlocked []Achievement, ev enforce.Event) []Achievement {
	day := clock.StartOfDay(ev.Date)
	if ev.Date.IsZero() {
		day = clock.StartOfDay(ev.Time)
	}

	if t.lastActive.IsZero() {
		t.streak = 1
	} else {
		days := daysBetween(t.lastActive, day)
		if days <= 0 {
			return unlocked
		}
		if days == 1 {
			t.streak++
		} else {
			t.streak = 1
		}

		if t.violated {
			t.clean = 0
		} else {
			t.clean++
			if t.limitHit {
				unlocked = t.addLocked(unlocked, RestRespecter, 1, ev.Time)
			}
		}
	}

	t.lastActive = day
	t.violated = false
	t.limitHit = false

	unlocked = t.setLocked(unlocked, DailyHero, t.streak, ev.Time)
	unlocked = t.setLocked(unlocked, WeeklyMaster, t.streak, ev.Time)
	unlocked = t.setLocked(unlocked, DisciplineMaster, t.clean, ev.Time)
	return unlocked
}

func (t *Tracker) addLocked(unlocked []Achievement, id ID, delta int, at time.Time) []Achievement {
	a := t.progress[id]
	return t.setLocked(unlocked, id, a.Progress+delta, at)
}

// setLocked sets progress, capped at the target. Completed achievements
// are never reset.
func (t *Tracker) setLocked(unlocked []Achievement, id ID, progress int, at time.Time) []Achievement {
	a := t.progress[id]
	if a.Completed {
		return unlocked
	}
	a.Progress = min(progress, a.Target)
	if a.Progress >= a.Target {
		a.Completed = true
		a.CompletedAt = at
		unlocked = append(unlocked, *a)
	}
	return unlocked
}

// Achievements returns every achievement in definition order.
func (t *Tracker) Achievements() []Achievement {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Achievement, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, *t.progress[def.ID])
	}
	return out
}

// Progress returns current and target progress for id.
func (t *Tracker) Progress(id ID) (int, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.progress[id]
	if !ok {
		return 0, 0, false
	}
	return a.Progress, a.Target, true
}

func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
