package enforce

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zinwlad/game-timer/internal/metrics"
)

type promptState struct {
	inFlight     bool
	id           string
	attempts     int
	nextAt       time.Time
	snoozedUntil time.Time
}

type promptResult struct {
	id     string
	answer PromptAnswer
	err    error
}

func (c *Coordinator) promptEligibleLocked(now time.Time, running []string) bool {
	return c.settings.Prompt.Enabled &&
		len(running) > 0 &&
		c.state == Idle &&
		!c.restActiveLocked(now) &&
		c.timer.State().Stopped()
}

// maybePromptLocked asks the display whether to start a timer for a
// detected game. Unanswered prompts are retried with exponential backoff
// and snoozed after the retry budget is spent.
func (c *Coordinator) maybePromptLocked(now time.Time, running []string) {
	if c.prompt.inFlight {
		return
	}
	if !c.promptEligibleLocked(now, running) {
		if len(running) == 0 {
			c.prompt.attempts = 0
			c.prompt.nextAt = time.Time{}
		}
		return
	}
	if now.Before(c.prompt.nextAt) || now.Before(c.prompt.snoozedUntil) {
		return
	}

	c.prompt.attempts++
	c.prompt.inFlight = true
	c.prompt.id = uuid.NewString()

	id := c.prompt.id
	timeout := c.settings.Prompt.Timeout
	display := c.deps.Display
	text := fmt.Sprintf("%s is running. Start a %s timer?", running[0], formatDuration(c.settings.DefaultDuration))

	c.logger.Info().Str("process", running[0]).Int("attempt", c.prompt.attempts).Msg("Asking to start timer")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		answer, err := display.PromptAutoStart(ctx, text)
		if err == nil && answer == "" {
			answer = PromptTimeout
		}
		select {
		case c.promptResults <- promptResult{id: id, answer: answer, err: err}:
		case <-c.closed:
		}
	}()
}

func (c *Coordinator) drainPromptLocked(now time.Time, running []string) {
	for {
		select {
		case res := <-c.promptResults:
			c.handlePromptLocked(now, running, res)
		default:
			return
		}
	}
}

func (c *Coordinator) handlePromptLocked(now time.Time, running []string, res promptResult) {
	if !c.prompt.inFlight || res.id != c.prompt.id {
		return
	}
	c.prompt.inFlight = false

	answer := res.answer
	if res.err != nil {
		metrics.CollaboratorFailures.WithLabelValues("display", "prompt_auto_start").Inc()
		c.logger.Warn().Err(res.err).Msg("Auto-start prompt failed")
		answer = PromptTimeout
	}

	switch answer {
	case PromptYes:
		if !c.promptEligibleLocked(now, running) {
			c.logger.Info().Msg("Prompt accepted but conditions changed, not starting timer")
			c.prompt.attempts = 0
			c.prompt.nextAt = time.Time{}
			return
		}
		secs := int64(c.settings.DefaultDuration / time.Second)
		if err := c.startTimerLocked(now, secs, c.settings.DefaultMode); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to start timer from prompt")
		}
	case PromptNo:
		c.snoozePromptLocked(now)
	default:
		if c.prompt.attempts >= c.settings.Prompt.MaxRetries {
			c.snoozePromptLocked(now)
			return
		}
		backoff := c.settings.Prompt.RetryBase << (c.prompt.attempts - 1)
		c.prompt.nextAt = now.Add(backoff)
		c.logger.Debug().Dur("backoff", backoff).Msg("Prompt unanswered, retrying later")
	}
}

func (c *Coordinator) snoozePromptLocked(now time.Time) {
	c.prompt.attempts = 0
	c.prompt.nextAt = time.Time{}
	c.prompt.snoozedUntil = now.Add(c.settings.Prompt.Snooze)
	c.logger.Info().Time("until", c.prompt.snoozedUntil).Msg("Auto-start prompt snoozed")
}
