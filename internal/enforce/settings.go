package enforce

import (
	"time"

	"github.com/zinwlad/game-timer/internal/timer"
)

// Settings is the immutable configuration snapshot of a Coordinator.
type Settings struct {
	Processes []string

	DailyLimit      time.Duration // 0 disables the daily check
	GracePeriod     time.Duration
	BlockDelay      time.Duration
	CooldownEnabled bool
	Cooldown        time.Duration
	AutoUnlockAfter time.Duration // 0 waits for an explicit unlock

	DefaultDuration   time.Duration
	DefaultMode       timer.Mode
	MaxExtensions     int
	ExtensionCooldown time.Duration
	AutoPauseCountUp  bool

	TickInterval        time.Duration
	AccountingInterval  time.Duration
	CollaboratorTimeout time.Duration

	Prompt PromptSettings
}

// PromptSettings controls the auto-start prompt.
type PromptSettings struct {
	Enabled    bool
	Timeout    time.Duration
	RetryBase  time.Duration
	MaxRetries int
	Snooze     time.Duration
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Processes:           []string{"game.exe", "minecraft.exe"},
		DailyLimit:          2 * time.Hour,
		GracePeriod:         10 * time.Second,
		BlockDelay:          10 * time.Second,
		CooldownEnabled:     true,
		Cooldown:            15 * time.Minute,
		DefaultDuration:     time.Hour,
		DefaultMode:         timer.Countdown,
		MaxExtensions:       3,
		ExtensionCooldown:   time.Minute,
		AutoPauseCountUp:    true,
		TickInterval:        time.Second,
		AccountingInterval:  time.Minute,
		CollaboratorTimeout: 3 * time.Second,
		Prompt: PromptSettings{
			Enabled:    true,
			Timeout:    30 * time.Second,
			RetryBase:  30 * time.Second,
			MaxRetries: 3,
			Snooze:     10 * time.Minute,
		},
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.TickInterval <= 0 {
		s.TickInterval = def.TickInterval
	}
	if s.AccountingInterval <= 0 {
		s.AccountingInterval = def.AccountingInterval
	}
	if s.CollaboratorTimeout <= 0 {
		s.CollaboratorTimeout = def.CollaboratorTimeout
	}
	if s.DefaultMode == "" {
		s.DefaultMode = def.DefaultMode
	}
	if s.Prompt.Timeout <= 0 {
		s.Prompt.Timeout = def.Prompt.Timeout
	}
	if s.Prompt.RetryBase <= 0 {
		s.Prompt.RetryBase = def.Prompt.RetryBase
	}
	if s.DailyLimit < 0 {
		s.DailyLimit = 0
	}
	s.Processes = append([]string(nil), s.Processes...)
	return s
}
