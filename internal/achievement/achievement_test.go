package achievement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zinwlad/game-timer/internal/enforce"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingNotifier) ShowNotification(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

var day0 = time.Date(2024, 4, 1, 0, 0, 0, 0, time.Local)

func event(kind enforce.EventKind, date time.Time) enforce.Event {
	return enforce.Event{ID: uuid.NewString(), Kind: kind, Time: date.Add(12 * time.Hour), Date: date}
}

func dailyCheck(t *testing.T, tr *Tracker, offset int) {
	t.Helper()
	require.NoError(t, tr.Handle(context.Background(), event(enforce.EventDailyCheck, day0.AddDate(0, 0, offset))))
}

func progress(tr *Tracker, id ID) int {
	p, _, _ := tr.Progress(id)
	return p
}

func TestTimerStartedUnlocks(t *testing.T) {
	n := &recordingNotifier{}
	tr := NewTracker(n, zerolog.Nop())

	for i := 0; i < 10; i++ {
		require.NoError(t, tr.Handle(context.Background(), event(enforce.EventTimerStarted, day0)))
	}

	assert.Equal(t, 1, progress(tr, FirstTimer))
	assert.Equal(t, 10, progress(tr, TimeMaster))
	assert.Equal(t, []string{"Achievement unlocked: First steps", "Achievement unlocked: Time master"}, n.texts)
}

func TestDuplicateEventsIgnored(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	ev := event(enforce.EventBreakTakenOnTime, day0)
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Handle(context.Background(), ev))
	}
	assert.Equal(t, 1, progress(tr, BreakChampion))
}

func TestDailyStreak(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	for d := 0; d < 4; d++ {
		dailyCheck(t, tr, d)
	}
	dailyCheck(t, tr, 3) // same day again
	assert.Equal(t, 4, progress(tr, DailyHero))

	dailyCheck(t, tr, 6) // missed two days
	assert.Equal(t, 1, progress(tr, DailyHero))

	for d := 7; d < 13; d++ {
		dailyCheck(t, tr, d)
	}
	for _, a := range tr.Achievements() {
		switch a.ID {
		case DailyHero, WeeklyMaster:
			assert.True(t, a.Completed, a.ID)
		}
	}
}

func TestDisciplineResetsOnViolation(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	dailyCheck(t, tr, 0)
	dailyCheck(t, tr, 1)
	dailyCheck(t, tr, 2)
	assert.Equal(t, 2, progress(tr, DisciplineMaster))

	require.NoError(t, tr.Handle(context.Background(), event(enforce.EventForcedBlock, day0.AddDate(0, 0, 2))))
	dailyCheck(t, tr, 3)
	assert.Equal(t, 0, progress(tr, DisciplineMaster))

	for d := 4; d <= 10; d++ {
		dailyCheck(t, tr, d)
	}
	done := false
	for _, a := range tr.Achievements() {
		if a.ID == DisciplineMaster {
			done = a.Completed
		}
	}
	assert.True(t, done)
}

func TestRestRespecter(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	dailyCheck(t, tr, 0)

	require.NoError(t, tr.Handle(context.Background(), event(enforce.EventDailyLimitExceeded, day0)))
	dailyCheck(t, tr, 1)
	assert.Equal(t, 1, progress(tr, RestRespecter))

	require.NoError(t, tr.Handle(context.Background(), event(enforce.EventDailyLimitExceeded, day0.AddDate(0, 0, 1))))
	require.NoError(t, tr.Handle(context.Background(), event(enforce.EventAttemptDuringRest, day0.AddDate(0, 0, 1))))
	dailyCheck(t, tr, 2)
	assert.Equal(t, 1, progress(tr, RestRespecter), "attempt during rest does not count")
}

func TestNotifierFailureKeepsProgress(t *testing.T) {
	n := &recordingNotifier{err: errors.New("no display")}
	tr := NewTracker(n, zerolog.Nop())

	err := tr.Handle(context.Background(), event(enforce.EventTimerStarted, day0))
	assert.Error(t, err)
	assert.Equal(t, 1, progress(tr, FirstTimer))
}

func TestProgressUnknownID(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	_, _, ok := tr.Progress("nope")
	assert.False(t, ok)
	assert.Len(t, Definitions(), len(tr.Achievements()))
}
