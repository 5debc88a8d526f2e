package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/config"
	"github.com/zinwlad/game-timer/internal/enforce"
	"github.com/zinwlad/game-timer/internal/policy"
	"github.com/zinwlad/game-timer/internal/procscan"
	"github.com/zinwlad/game-timer/internal/timer"
	"github.com/zinwlad/game-timer/internal/usage"
)

// engineSettings converts a loaded config into coordinator settings.
func engineSettings(cfg *config.Config) enforce.Settings {
	def := enforce.DefaultSettings()

	mode, err := timer.ParseMode(cfg.Timer.DefaultMode)
	if err != nil {
		mode = def.DefaultMode
	}

	return enforce.Settings{
		Processes: append([]string(nil), cfg.Monitor.Processes...),

		DailyLimit:      config.ParseDuration(cfg.Limits.DailyLimit, def.DailyLimit),
		GracePeriod:     config.ParseDuration(cfg.Limits.GracePeriod, def.GracePeriod),
		BlockDelay:      config.ParseDuration(cfg.Limits.BlockDelay, def.BlockDelay),
		CooldownEnabled: cfg.Limits.CooldownEnabled,
		Cooldown:        config.ParseDuration(cfg.Limits.Cooldown, def.Cooldown),
		AutoUnlockAfter: config.ParseDuration(cfg.Limits.AutoUnlockAfter, 0),

		DefaultDuration:   config.ParseDuration(cfg.Timer.DefaultDuration, def.DefaultDuration),
		DefaultMode:       mode,
		MaxExtensions:     cfg.Timer.MaxExtensions,
		ExtensionCooldown: config.ParseDuration(cfg.Timer.ExtensionCooldown, def.ExtensionCooldown),
		AutoPauseCountUp:  cfg.Timer.AutoPauseCountUp,

		TickInterval:        config.ParseDuration(cfg.Engine.TickInterval, def.TickInterval),
		AccountingInterval:  config.ParseDuration(cfg.Engine.AccountingInterval, def.AccountingInterval),
		CollaboratorTimeout: config.ParseDuration(cfg.Engine.CollaboratorTimeout, def.CollaboratorTimeout),

		Prompt: enforce.PromptSettings{
			Enabled:    cfg.Prompt.Enabled,
			Timeout:    config.ParseDuration(cfg.Prompt.Timeout, def.Prompt.Timeout),
			RetryBase:  config.ParseDuration(cfg.Prompt.RetryBase, def.Prompt.RetryBase),
			MaxRetries: cfg.Prompt.MaxRetries,
			Snooze:     config.ParseDuration(cfg.Prompt.Snooze, def.Prompt.Snooze),
		},
	}
}

func ledgerConfig(cfg *config.Config) usage.Config {
	return usage.Config{
		BufferSize:     cfg.Ledger.BufferSize,
		FlushInterval:  config.ParseDuration(cfg.Ledger.FlushInterval, usage.DefaultFlushInterval),
		FlushTimeout:   config.ParseDuration(cfg.Ledger.FlushTimeout, usage.DefaultFlushTimeout),
		Retention:      config.ParseDuration(cfg.Ledger.Retention, usage.DefaultRetention),
		PurgeInterval:  config.ParseDuration(cfg.Ledger.PurgeInterval, usage.DefaultPurgeInterval),
		SessionGap:     config.ParseDuration(cfg.Ledger.SessionGap, usage.DefaultSessionGap),
		KnownProcesses: cfg.Monitor.Processes,
	}
}

func scanConfig(cfg *config.Config) procscan.Config {
	return procscan.Config{
		TTL:              config.ParseDuration(cfg.Monitor.CacheTTL, procscan.DefaultTTL),
		EnumerateTimeout: config.ParseDuration(cfg.Monitor.EnumerateTimeout, procscan.DefaultEnumerateTimeout),
		MatchPaths:       cfg.Monitor.MatchPaths,
	}
}

// policyConfig relies on Load having validated the quiet-hours strings.
func policyConfig(cfg config.PolicyConfig) policy.Config {
	pc := policy.Config{Dir: cfg.Dir}
	if cfg.QuietStart == "" {
		return pc
	}
	start, err := config.ParseClockMinute(cfg.QuietStart)
	if err != nil {
		return pc
	}
	end, err := config.ParseClockMinute(cfg.QuietEnd)
	if err != nil {
		return pc
	}
	pc.QuietHours = true
	pc.QuietStart = start
	pc.QuietEnd = end
	return pc
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Logs go to stderr; stdout belongs to the console display.
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
