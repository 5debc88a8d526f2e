package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
// A loaded Config is treated as an immutable snapshot; reloading
// produces a new value instead of mutating this one.
type Config struct {
	Monitor MonitorConfig `mapstructure:"monitor"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Timer   TimerConfig   `mapstructure:"timer"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Prompt  PromptConfig  `mapstructure:"prompt"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Display DisplayConfig `mapstructure:"display"`
	Policy  PolicyConfig  `mapstructure:"policy"`
}

// MonitorConfig defines which processes are tracked and how often the
// process list is sampled.
type MonitorConfig struct {
	Processes        []string `mapstructure:"processes"`
	CacheTTL         string   `mapstructure:"cache_ttl"`
	EnumerateTimeout string   `mapstructure:"enumerate_timeout"`
	MatchPaths       bool     `mapstructure:"match_paths"`
}

// LimitsConfig defines thresholds for the escalation sequence.
type LimitsConfig struct {
	DailyLimit      string `mapstructure:"daily_limit"`
	GracePeriod     string `mapstructure:"grace_period"`
	BlockDelay      string `mapstructure:"block_delay"`
	CooldownEnabled bool   `mapstructure:"cooldown_enabled"`
	Cooldown        string `mapstructure:"cooldown"`
	AutoUnlockAfter string `mapstructure:"auto_unlock_after"`
	LimitStep       string `mapstructure:"limit_step"`
}

// TimerConfig defines timer defaults.
type TimerConfig struct {
	DefaultDuration   string `mapstructure:"default_duration"`
	DefaultMode       string `mapstructure:"default_mode"`
	MaxExtensions     int    `mapstructure:"max_extensions"`
	ExtensionCooldown string `mapstructure:"extension_cooldown"`
	AutoPauseCountUp  bool   `mapstructure:"auto_pause_countup"`
}

// EngineConfig defines coordinator loop settings.
type EngineConfig struct {
	TickInterval        string `mapstructure:"tick_interval"`
	AccountingInterval  string `mapstructure:"accounting_interval"`
	CollaboratorTimeout string `mapstructure:"collaborator_timeout"`
}

// PromptConfig defines the auto-start prompt behaviour.
type PromptConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Timeout    string `mapstructure:"timeout"`
	RetryBase  string `mapstructure:"retry_base"`
	MaxRetries int    `mapstructure:"max_retries"`
	Snooze     string `mapstructure:"snooze"`
}

// LedgerConfig defines usage ledger buffering and retention.
type LedgerConfig struct {
	BufferSize    int    `mapstructure:"buffer_size"`
	FlushInterval string `mapstructure:"flush_interval"`
	FlushTimeout  string `mapstructure:"flush_timeout"`
	Retention     string `mapstructure:"retention"`
	PurgeInterval string `mapstructure:"purge_interval"`
	SessionGap    string `mapstructure:"session_gap"`
}

// StorageConfig defines storage backend settings.
type StorageConfig struct {
	Type       string      `mapstructure:"type"`
	Path       string      `mapstructure:"path"`
	SQLitePath string      `mapstructure:"sqlite_path"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings.
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// DisplayConfig selects the display surface.
type DisplayConfig struct {
	Type       string `mapstructure:"type"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// PolicyConfig defines the optional OPA play policy.
type PolicyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	QuietStart string `mapstructure:"quiet_start"`
	QuietEnd   string `mapstructure:"quiet_end"`
}

// DefaultPath returns the per-user configuration file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "gametimer", "config.yaml")
}

// Load loads configuration from file and environment variables.
// A missing file is not an error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GAMETIMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the built-in configuration without reading a file or
// the environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	normalize(&cfg)
	return &cfg
}

// KnownKeys returns every configuration key the application reads.
func KnownKeys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// UnknownKeys lists the keys of the file at path that the application
// does not read, sorted.
func UnknownKeys(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := KnownKeys()
	var unknown []string
	for _, key := range v.AllKeys() {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()

	// Monitor defaults
	v.SetDefault("monitor.processes", []string{"game.exe", "minecraft.exe"})
	v.SetDefault("monitor.cache_ttl", "5s")
	v.SetDefault("monitor.enumerate_timeout", "2s")
	v.SetDefault("monitor.match_paths", false)

	// Limit defaults
	v.SetDefault("limits.daily_limit", "2h")
	v.SetDefault("limits.grace_period", "10s")
	v.SetDefault("limits.block_delay", "10s")
	v.SetDefault("limits.cooldown_enabled", true)
	v.SetDefault("limits.cooldown", "15m")
	v.SetDefault("limits.auto_unlock_after", "0s")
	v.SetDefault("limits.limit_step", "10m")

	// Timer defaults
	v.SetDefault("timer.default_duration", "1h")
	v.SetDefault("timer.default_mode", "countdown")
	v.SetDefault("timer.max_extensions", 3)
	v.SetDefault("timer.extension_cooldown", "60s")
	v.SetDefault("timer.auto_pause_countup", true)

	// Engine defaults
	v.SetDefault("engine.tick_interval", "1s")
	v.SetDefault("engine.accounting_interval", "60s")
	v.SetDefault("engine.collaborator_timeout", "3s")

	// Prompt defaults
	v.SetDefault("prompt.enabled", true)
	v.SetDefault("prompt.timeout", "30s")
	v.SetDefault("prompt.retry_base", "30s")
	v.SetDefault("prompt.max_retries", 3)
	v.SetDefault("prompt.snooze", "10m")

	// Ledger defaults
	v.SetDefault("ledger.buffer_size", 100)
	v.SetDefault("ledger.flush_interval", "5m")
	v.SetDefault("ledger.flush_timeout", "5s")
	v.SetDefault("ledger.retention", "720h")
	v.SetDefault("ledger.purge_interval", "1h")
	v.SetDefault("ledger.session_gap", "15m")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", filepath.Join(dataDir, "gametimer.bolt"))
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "usage_stats.db"))
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "gametimer")
	v.SetDefault("storage.redis.pool_size", 5)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")

	// Display defaults
	v.SetDefault("display.type", "console")
	v.SetDefault("display.listen_addr", "127.0.0.1:8765")

	// Policy defaults
	v.SetDefault("policy.enabled", false)
	v.SetDefault("policy.dir", "")
	v.SetDefault("policy.quiet_start", "")
	v.SetDefault("policy.quiet_end", "")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "gametimer")
}

// normalize lower-cases and de-duplicates the monitored process names.
func normalize(cfg *Config) {
	seen := make(map[string]struct{}, len(cfg.Monitor.Processes))
	names := make([]string, 0, len(cfg.Monitor.Processes))
	for _, name := range cfg.Monitor.Processes {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	cfg.Monitor.Processes = names
	cfg.Storage.Type = strings.ToLower(cfg.Storage.Type)
	cfg.Display.Type = strings.ToLower(cfg.Display.Type)
	cfg.Timer.DefaultMode = strings.ToLower(cfg.Timer.DefaultMode)
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	if len(cfg.Monitor.Processes) == 0 {
		return fmt.Errorf("at least one monitored process is required")
	}

	positive := map[string]string{
		"monitor.cache_ttl":           cfg.Monitor.CacheTTL,
		"monitor.enumerate_timeout":   cfg.Monitor.EnumerateTimeout,
		"engine.tick_interval":        cfg.Engine.TickInterval,
		"engine.accounting_interval":  cfg.Engine.AccountingInterval,
		"engine.collaborator_timeout": cfg.Engine.CollaboratorTimeout,
		"ledger.flush_interval":       cfg.Ledger.FlushInterval,
		"ledger.flush_timeout":        cfg.Ledger.FlushTimeout,
		"ledger.purge_interval":       cfg.Ledger.PurgeInterval,
		"ledger.retention":            cfg.Ledger.Retention,
		"ledger.session_gap":          cfg.Ledger.SessionGap,
		"prompt.timeout":              cfg.Prompt.Timeout,
		"prompt.retry_base":           cfg.Prompt.RetryBase,
		"limits.limit_step":           cfg.Limits.LimitStep,
	}
	for key, value := range positive {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, value)
		}
	}

	nonNegative := map[string]string{
		"limits.daily_limit":       cfg.Limits.DailyLimit,
		"limits.grace_period":      cfg.Limits.GracePeriod,
		"limits.block_delay":       cfg.Limits.BlockDelay,
		"limits.cooldown":          cfg.Limits.Cooldown,
		"limits.auto_unlock_after": cfg.Limits.AutoUnlockAfter,
		"timer.default_duration":   cfg.Timer.DefaultDuration,
		"timer.extension_cooldown": cfg.Timer.ExtensionCooldown,
		"prompt.snooze":            cfg.Prompt.Snooze,
	}
	for key, value := range nonNegative {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", key, value)
		}
	}

	if cfg.Ledger.BufferSize <= 0 {
		return fmt.Errorf("ledger.buffer_size must be positive, got %d", cfg.Ledger.BufferSize)
	}
	if cfg.Timer.MaxExtensions < 0 {
		return fmt.Errorf("timer.max_extensions must not be negative, got %d", cfg.Timer.MaxExtensions)
	}
	if cfg.Prompt.MaxRetries < 0 {
		return fmt.Errorf("prompt.max_retries must not be negative, got %d", cfg.Prompt.MaxRetries)
	}

	switch cfg.Timer.DefaultMode {
	case "countdown", "countup":
	default:
		return fmt.Errorf("unknown timer.default_mode: %s", cfg.Timer.DefaultMode)
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			return fmt.Errorf("storage sqlite_path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage redis host is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Display.Type {
	case "console", "none":
	case "websocket":
		if cfg.Display.ListenAddr == "" {
			return fmt.Errorf("display listen_addr is required for websocket display")
		}
	default:
		return fmt.Errorf("unknown display type: %s", cfg.Display.Type)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format: %s", cfg.Logging.Format)
	}

	if (cfg.Policy.QuietStart == "") != (cfg.Policy.QuietEnd == "") {
		return fmt.Errorf("policy quiet_start and quiet_end must be set together")
	}
	for _, hm := range []string{cfg.Policy.QuietStart, cfg.Policy.QuietEnd} {
		if hm == "" {
			continue
		}
		if _, err := ParseClockMinute(hm); err != nil {
			return err
		}
	}

	return nil
}

// ParseClockMinute converts "HH:MM" into minutes since midnight.
func ParseClockMinute(hm string) (int, error) {
	t, err := time.Parse("15:04", hm)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", hm)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseDuration parses a duration string with a fallback.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
