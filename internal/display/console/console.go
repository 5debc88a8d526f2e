package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/display"
	"github.com/zinwlad/game-timer/internal/enforce"
	"github.com/zinwlad/game-timer/internal/timer"
)

// DefaultLimitStep is the daily-limit change of one "more" or "less".
const DefaultLimitStep = 10 * time.Minute

var (
	tag     = color.New(color.FgCyan, color.Bold).SprintFunc()
	warn    = color.New(color.FgYellow, color.Bold).SprintFunc()
	alert   = color.New(color.FgWhite, color.BgRed, color.Bold).SprintFunc()
	success = color.New(color.FgGreen).SprintFunc()
)

// Display writes to a terminal and reads answers and commands line by line.
//
// Commands accepted when no prompt is pending:
//
//	unlock        end a full block
//	closed        report the game was closed during the grace window
//	start [MIN]   start a countdown (default duration without MIN)
//	countup       start a count-up timer
//	pause/resume  pause or resume the timer
//	extend [MIN]  add MIN minutes to the countdown (default 5)
//	more/less     raise or lower today's limit by one step
//
// The timer and limit commands need a controller that is also a Commander.
type Display struct {
	out    io.Writer
	logger zerolog.Logger
	step   time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	ctrl    display.Controller
	pending chan enforce.PromptAnswer
}

// New creates a console display. in may be nil for output only.
func New(in io.Reader, out io.Writer, logger zerolog.Logger) *Display {
	d := &Display{
		out:    out,
		logger: logger.With().Str("component", "display-console").Logger(),
		step:   DefaultLimitStep,
	}
	if in != nil {
		go d.readLines(in)
	}
	return d
}

// Commander accepts the timer and limit commands typed on the console.
type Commander interface {
	display.Controller
	StartTimer(seconds int64, mode timer.Mode) error
	StartDefaultTimer() error
	PauseTimer() error
	ResumeTimer() error
	ExtendTimer(minutes int) error
	AdjustDailyLimit(delta time.Duration) time.Duration
}

// SetController wires typed commands to the coordinator.
func (d *Display) SetController(c display.Controller) {
	d.mu.Lock()
	d.ctrl = c
	d.mu.Unlock()
}

// SetLimitStep sets the change applied by "more" and "less".
func (d *Display) SetLimitStep(step time.Duration) {
	if step <= 0 {
		step = DefaultLimitStep
	}
	d.mu.Lock()
	d.step = step
	d.mu.Unlock()
}

func (d *Display) printf(format string, args ...interface{}) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := fmt.Fprintf(d.out, format, args...)
	return err
}

func (d *Display) ShowNotification(_ context.Context, text string) error {
	return d.printf("%s %s\n", tag("[gametimer]"), text)
}

func (d *Display) ShowCountdown(_ context.Context, seconds int) error {
	return d.printf("%s %s\n", tag("[gametimer]"), warn(fmt.Sprintf("Blocking in %d seconds", seconds)))
}

func (d *Display) ShowBlock(_ context.Context) error {
	return d.printf("%s\n%s\n", alert(" GAMES BLOCKED "), "Type 'unlock' to continue.")
}

func (d *Display) HideBlock(_ context.Context) error {
	return d.printf("%s %s\n", tag("[gametimer]"), success("Block lifted"))
}

// PromptAutoStart prints text and waits for the next input line or ctx.
func (d *Display) PromptAutoStart(ctx context.Context, text string) (enforce.PromptAnswer, error) {
	ch := make(chan enforce.PromptAnswer, 1)
	d.mu.Lock()
	d.pending = ch
	d.mu.Unlock()

	if err := d.printf("%s %s [y/N] ", warn("?"), text); err != nil {
		d.clearPending(ch)
		return enforce.PromptTimeout, err
	}

	select {
	case answer := <-ch:
		return answer, nil
	case <-ctx.Done():
		d.clearPending(ch)
		_ = d.printf("\n")
		return enforce.PromptTimeout, nil
	}
}

func (d *Display) clearPending(ch chan enforce.PromptAnswer) {
	d.mu.Lock()
	if d.pending == ch {
		d.pending = nil
	}
	d.mu.Unlock()
}

func (d *Display) readLines(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		d.mu.Lock()
		pending := d.pending
		d.pending = nil
		ctrl := d.ctrl
		d.mu.Unlock()

		if pending != nil {
			pending <- display.ParseAnswer(line)
			continue
		}
		d.command(ctrl, line)
	}
	if err := scanner.Err(); err != nil {
		d.logger.Warn().Err(err).Msg("Console input closed")
	}
}

func (d *Display) command(ctrl display.Controller, line string) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return
	}
	if ctrl == nil {
		d.logger.Debug().Str("input", line).Msg("No controller, ignoring input")
		return
	}

	switch fields[0] {
	case "unlock":
		d.report(ctrl.UnlockRequested())
		return
	case "closed":
		ctrl.MonitoredAppClosed()
		return
	}

	cmd, ok := ctrl.(Commander)
	if !ok {
		_ = d.printf("%s unknown command %q (unlock, closed)\n", tag("[gametimer]"), line)
		return
	}

	d.mu.Lock()
	step := d.step
	d.mu.Unlock()

	switch fields[0] {
	case "start":
		if len(fields) == 1 {
			d.report(cmd.StartDefaultTimer())
			return
		}
		minutes, err := minutesArg(fields, 0)
		if err != nil {
			d.report(err)
			return
		}
		d.report(cmd.StartTimer(int64(minutes)*60, timer.Countdown))
	case "countup":
		d.report(cmd.StartTimer(0, timer.CountUp))
	case "pause":
		d.report(cmd.PauseTimer())
	case "resume":
		d.report(cmd.ResumeTimer())
	case "extend":
		minutes, err := minutesArg(fields, 5)
		if err != nil {
			d.report(err)
			return
		}
		d.report(cmd.ExtendTimer(minutes))
	case "more", "less":
		delta := step
		if fields[0] == "less" {
			delta = -step
		}
		limit := cmd.AdjustDailyLimit(delta)
		_ = d.printf("%s daily limit is now %s\n", tag("[gametimer]"), limit)
	default:
		_ = d.printf("%s unknown command %q (unlock, closed, start, countup, pause, resume, extend, more, less)\n",
			tag("[gametimer]"), line)
	}
}

func (d *Display) report(err error) {
	if err != nil {
		_ = d.printf("%s %v\n", tag("[gametimer]"), err)
	}
}

func minutesArg(fields []string, fallback int) (int, error) {
	if len(fields) < 2 {
		return fallback, nil
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid minutes %q", fields[1])
	}
	return n, nil
}
