package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zinwlad/game-timer/internal/clock"
)

func newTestEngine() (*Engine, *clock.Manual) {
	clk := clock.NewManual(time.Date(2024, 4, 1, 18, 0, 0, 0, time.UTC))
	return New(clk), clk
}

func TestCountdownExpiresExactlyOnce(t *testing.T) {
	for _, d := range []int64{0, 1, 2, 10, 61} {
		eng, _ := newTestEngine()
		require.NoError(t, eng.Start(d, Countdown))

		signals := 0
		for i := int64(0); i < d; i++ {
			if eng.Tick() {
				signals++
			}
		}
		st := eng.State()
		assert.True(t, st.Expired, "d=%d", d)
		assert.Zero(t, st.RemainingSeconds, "d=%d", d)
		assert.False(t, st.Running, "d=%d", d)

		// Extra ticks never signal again.
		for i := 0; i < 5; i++ {
			if eng.Tick() {
				signals++
			}
		}
		if d > 0 {
			assert.Equal(t, 1, signals, "d=%d", d)
		} else {
			assert.Equal(t, 0, signals, "zero countdown expires at start")
		}
	}
}

func TestStartRejectsInvalid(t *testing.T) {
	eng, _ := newTestEngine()
	require.NoError(t, eng.Start(60, Countdown))

	assert.ErrorIs(t, eng.Start(-1, Countdown), ErrNegativeDuration)
	assert.ErrorIs(t, eng.Start(10, Mode("sideways")), ErrUnknownMode)
	assert.Equal(t, int64(60), eng.State().RemainingSeconds, "rejected start leaves state alone")
}

func TestCountUpUnbounded(t *testing.T) {
	eng, _ := newTestEngine()
	require.NoError(t, eng.Start(0, CountUp))
	for i := 0; i < 5000; i++ {
		assert.False(t, eng.Tick())
	}
	st := eng.State()
	assert.Equal(t, int64(5000), st.ElapsedSeconds)
	assert.True(t, st.Running)
	assert.False(t, st.Expired)
}

func TestPauseResumeIdempotent(t *testing.T) {
	eng, clk := newTestEngine()
	require.NoError(t, eng.Start(100, Countdown))
	clk.Advance(3 * time.Second)
	for i := eng.Owed(clk.Now()); i > 0; i-- {
		eng.Tick()
	}
	before := eng.State()

	require.NoError(t, eng.Pause())
	require.NoError(t, eng.Resume())

	after := eng.State()
	assert.Equal(t, before.RemainingSeconds, after.RemainingSeconds)
	assert.Zero(t, eng.Owed(clk.Now()))
}

func TestPauseFreezesOwedTime(t *testing.T) {
	eng, clk := newTestEngine()
	require.NoError(t, eng.Start(0, CountUp))

	clk.Advance(1500 * time.Millisecond)
	require.NoError(t, eng.Pause())
	clk.Advance(time.Hour)
	assert.Equal(t, int64(1), eng.Owed(clk.Now()))

	require.NoError(t, eng.Resume())
	clk.Advance(600 * time.Millisecond)
	// 1.5s + 0.6s = 2.1s of running time.
	assert.Equal(t, int64(2), eng.Owed(clk.Now()))
}

func TestPauseResumeErrors(t *testing.T) {
	eng, _ := newTestEngine()
	assert.ErrorIs(t, eng.Pause(), ErrNotRunning)
	assert.ErrorIs(t, eng.Resume(), ErrNotRunning)

	require.NoError(t, eng.Start(10, Countdown))
	assert.ErrorIs(t, eng.Resume(), ErrNotPaused)
	require.NoError(t, eng.Pause())
	assert.ErrorIs(t, eng.Pause(), ErrAlreadyPaused)
	assert.False(t, eng.Tick(), "paused timer does not tick")
	assert.Equal(t, int64(10), eng.State().RemainingSeconds)
}

func TestResetIsIdempotent(t *testing.T) {
	eng, _ := newTestEngine()
	eng.Reset()
	require.NoError(t, eng.Start(1, Countdown))
	require.True(t, eng.Tick())
	eng.Reset()
	eng.Reset()
	st := eng.State()
	assert.True(t, st.Stopped())
	assert.False(t, st.Expired)
}

func TestAddSeconds(t *testing.T) {
	eng, _ := newTestEngine()
	assert.ErrorIs(t, eng.AddSeconds(60), ErrNotRunning)

	require.NoError(t, eng.Start(30, Countdown))
	require.NoError(t, eng.AddSeconds(600))
	assert.Equal(t, int64(630), eng.State().RemainingSeconds)

	require.NoError(t, eng.AddSeconds(-1000))
	assert.Zero(t, eng.State().RemainingSeconds)
	assert.False(t, eng.State().Expired, "expiry only happens on tick")
	assert.True(t, eng.Tick())

	assert.ErrorIs(t, eng.AddSeconds(60), ErrNotRunning, "expired timer is not running")
}

func TestRestoreSkipsDowntime(t *testing.T) {
	eng, clk := newTestEngine()
	require.NoError(t, eng.Restore(State{Mode: Countdown, InitialSeconds: 600, RemainingSeconds: 120, Running: true}))

	clk.Advance(2 * time.Second)
	assert.Equal(t, int64(2), eng.Owed(clk.Now()))
	st := eng.State()
	assert.Equal(t, int64(120), st.RemainingSeconds)
	assert.True(t, st.Active())

	require.NoError(t, eng.Restore(State{Mode: Countdown, Expired: true}))
	assert.True(t, eng.State().Expired)
	assert.ErrorIs(t, eng.Restore(State{Mode: Countdown, RemainingSeconds: -1, Running: true}), ErrNegativeDuration)
}

func TestConcurrentReads(t *testing.T) {
	eng, _ := newTestEngine()
	require.NoError(t, eng.Start(1000, Countdown))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = eng.State()
		}
	}()
	for i := 0; i < 500; i++ {
		eng.Tick()
	}
	wg.Wait()
	assert.Equal(t, int64(500), eng.State().RemainingSeconds)
}
