package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/config"
	"github.com/zinwlad/game-timer/internal/policy"
	"github.com/zinwlad/game-timer/internal/storage"
	"github.com/zinwlad/game-timer/internal/storage/memory"
	"github.com/zinwlad/game-timer/internal/timer"
	"github.com/zinwlad/game-timer/internal/usage"
)

func init() {
	color.NoColor = true
}

var monday = time.Date(2024, 4, 1, 18, 0, 0, 0, time.Local)

func TestEngineSettingsFromDefaults(t *testing.T) {
	s := engineSettings(config.Defaults())
	if s.DailyLimit != 2*time.Hour {
		t.Fatalf("expected 2h daily limit, got %v", s.DailyLimit)
	}
	if s.DefaultMode != timer.Countdown {
		t.Fatalf("expected countdown mode, got %s", s.DefaultMode)
	}
	if s.Prompt.RetryBase != 30*time.Second || s.Prompt.MaxRetries != 3 {
		t.Fatalf("unexpected prompt settings: %+v", s.Prompt)
	}
	if s.AutoUnlockAfter != 0 {
		t.Fatalf("expected auto unlock disabled, got %v", s.AutoUnlockAfter)
	}
}

func TestEngineSettingsFallbacks(t *testing.T) {
	cfg := config.Defaults()
	cfg.Timer.DefaultMode = "sideways"
	cfg.Limits.GracePeriod = "soon"

	s := engineSettings(cfg)
	if s.DefaultMode != timer.Countdown {
		t.Fatalf("expected fallback mode, got %s", s.DefaultMode)
	}
	if s.GracePeriod != 10*time.Second {
		t.Fatalf("expected fallback grace period, got %v", s.GracePeriod)
	}
}

func TestPolicyConfig(t *testing.T) {
	pc := policyConfig(config.PolicyConfig{Dir: "/etc/gametimer/policy", QuietStart: "22:00", QuietEnd: "07:30"})
	if !pc.QuietHours || pc.QuietStart != 22*60 || pc.QuietEnd != 7*60+30 {
		t.Fatalf("unexpected policy config: %+v", pc)
	}
	if pc.Dir != "/etc/gametimer/policy" {
		t.Fatalf("unexpected dir: %s", pc.Dir)
	}

	if pc := policyConfig(config.PolicyConfig{}); pc.QuietHours {
		t.Fatalf("expected quiet hours disabled, got %+v", pc)
	}
}

func TestOpenStorageMemory(t *testing.T) {
	store, err := openStorage(config.StorageConfig{Type: "memory"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open memory storage: %v", err)
	}
	defer store.Close()

	if _, err := openStorage(config.StorageConfig{Type: "floppy"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}

func TestOpenEngineStorageFallsBack(t *testing.T) {
	cfg := config.StorageConfig{
		Type: "redis",
		Redis: config.RedisConfig{
			Host:         "127.0.0.1",
			Port:         1,
			DialTimeout:  "200ms",
			ReadTimeout:  "200ms",
			WriteTimeout: "200ms",
		},
	}
	store, err := openEngineStorage(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	defer store.Close()
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestPrintStats(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	records := []storage.UsageRecord{
		{Timestamp: monday, ProcessName: "game.exe", DurationSeconds: 60},
		{Timestamp: monday.Add(time.Minute), ProcessName: "game.exe", DurationSeconds: 60},
		{Timestamp: monday.Add(time.Hour), ProcessName: "minecraft.exe", DurationSeconds: 30},
		{Timestamp: monday.Add(2 * time.Hour), ProcessName: "game.exe", DurationSeconds: 60},
		{Timestamp: monday.AddDate(0, 0, 1), ProcessName: "game.exe", DurationSeconds: 100},
		{Timestamp: monday.AddDate(0, 0, -1), ProcessName: "game.exe", DurationSeconds: 500},
	}
	if err := store.Usage().UpsertRecords(ctx, records); err != nil {
		t.Fatalf("seed records: %v", err)
	}

	ledger := usage.NewLedger(store.Usage(), clock.NewManual(monday), usage.Config{}, zerolog.Nop())
	var out bytes.Buffer
	printStats(ctx, &out, ledger, clock.StartOfDay(monday), 15*time.Minute, time.Hour)

	s := out.String()
	for _, want := range []string{
		"Play time for Monday, 2024-04-01",
		"Today:     0h03m30s",
		"This week: 0h05m10s (since 2024-04-01)",
		"Remaining: 0h56m30s of 1h00m00s",
		"game.exe",
		"20:00:00",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %q in output:\n%s", want, s)
		}
	}
	if strings.Index(s, "game.exe") > strings.Index(s, "minecraft.exe") {
		t.Fatalf("expected processes ordered by time:\n%s", s)
	}

	var fields []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "game.exe") {
			fields = strings.Fields(line)
		}
	}
	if len(fields) != 4 || fields[1] != "0h03m00s" || fields[2] != "2" {
		t.Fatalf("unexpected game.exe row: %v", fields)
	}
}

func TestPrintStatsEmpty(t *testing.T) {
	store := memory.New()
	ledger := usage.NewLedger(store.Usage(), clock.NewManual(monday), usage.Config{}, zerolog.Nop())

	var out bytes.Buffer
	printStats(context.Background(), &out, ledger, monday, 0, 0)
	if !strings.Contains(out.String(), "No play recorded.") || strings.Contains(out.String(), "Remaining") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestPrintStatsLimitReached(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := storage.UsageRecord{Timestamp: monday, ProcessName: "game.exe", DurationSeconds: 7200}
	if err := store.Usage().UpsertRecords(ctx, []storage.UsageRecord{rec}); err != nil {
		t.Fatalf("seed records: %v", err)
	}
	ledger := usage.NewLedger(store.Usage(), clock.NewManual(monday), usage.Config{}, zerolog.Nop())

	var out bytes.Buffer
	printStats(ctx, &out, ledger, monday, 0, 2*time.Hour)
	if !strings.Contains(out.String(), "Remaining: none, daily limit of 2h00m00s reached") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestParseStatsDate(t *testing.T) {
	day, err := parseStatsDate("", monday)
	if err != nil || !day.Equal(clock.StartOfDay(monday)) {
		t.Fatalf("expected start of today, got %v (%v)", day, err)
	}
	day, err = parseStatsDate("2024-03-15", monday)
	if err != nil || day.Day() != 15 || day.Hour() != 0 {
		t.Fatalf("unexpected day %v (%v)", day, err)
	}
	if _, err := parseStatsDate("15/03/2024", monday); err == nil {
		t.Fatal("expected error for bad date")
	}
}

func TestPrintState(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var empty bytes.Buffer
	if err := printState(ctx, &empty, store.State(), monday); err != nil {
		t.Fatalf("print empty state: %v", err)
	}
	if !strings.Contains(empty.String(), "none") || !strings.Contains(empty.String(), "never saved") {
		t.Fatalf("unexpected output:\n%s", empty.String())
	}

	if err := store.State().PutRestPeriod(ctx, storage.RestPeriod{
		Until:  monday.Add(30 * time.Minute),
		Reason: storage.RestDailyLimitExceeded,
	}); err != nil {
		t.Fatalf("put rest: %v", err)
	}
	if err := store.State().PutTimerState(ctx, storage.TimerState{
		Mode:             storage.ModeCountdown,
		InitialSeconds:   3600,
		RemainingSeconds: 600,
		Running:          true,
		SavedAt:          monday,
	}); err != nil {
		t.Fatalf("put timer: %v", err)
	}

	var out bytes.Buffer
	if err := printState(ctx, &out, store.State(), monday); err != nil {
		t.Fatalf("print state: %v", err)
	}
	s := out.String()
	for _, want := range []string{
		"active until",
		"daily_limit_exceeded, 30m0s left",
		"status:    running",
		"remaining: 0h10m00s of 1h00m00s",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %q in output:\n%s", want, s)
		}
	}
}

func TestParseCheckTime(t *testing.T) {
	tests := []struct {
		day, at string
		want    time.Time
		wantErr bool
	}{
		{"", "", time.Date(2024, 4, 1, 18, 0, 0, 0, time.Local), false},
		{"sat", "23:30", time.Date(2024, 4, 6, 23, 30, 0, 0, time.Local), false},
		{"Monday", "07:05", time.Date(2024, 4, 1, 7, 5, 0, 0, time.Local), false},
		{"sunday", "", time.Date(2024, 4, 7, 18, 0, 0, 0, time.Local), false},
		{"someday", "", time.Time{}, true},
		{"", "25:00", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := parseCheckTime(tt.day, tt.at, monday)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseCheckTime(%q, %q): expected error", tt.day, tt.at)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseCheckTime(%q, %q): %v", tt.day, tt.at, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("parseCheckTime(%q, %q) = %v, want %v", tt.day, tt.at, got, tt.want)
		}
	}
}

func TestPrintDecision(t *testing.T) {
	in := policy.Input{Time: monday, TodaySeconds: 3600, Running: []string{"game.exe"}}

	var out bytes.Buffer
	printDecision(&out, in, policy.Decision{Allow: false, Reason: "quiet_hours"})
	if !strings.Contains(out.String(), "DENY (quiet_hours)") || !strings.Contains(out.String(), "Today:     1h00m00s") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	out.Reset()
	printDecision(&out, in, policy.Decision{Allow: true})
	if !strings.Contains(out.String(), "ALLOW") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestDumpConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Limits.DailyLimit = "3h"
	cfg.Storage.Redis.Password = "hunter2"

	var out bytes.Buffer
	dumpConfig(&out, cfg, config.Defaults())
	s := out.String()
	for _, want := range []string{
		"[limits]",
		"  daily_limit = 3h  (modified from default: 2h)",
		"  grace_period = 10s\n",
		"[storage.redis]",
		"  password = ***REDACTED***",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %q in output:\n%s", want, s)
		}
	}
	if strings.Contains(s, "hunter2") {
		t.Fatalf("password leaked:\n%s", s)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(3*3600 + 5*60 + 9); got != "3h05m09s" {
		t.Fatalf("formatSeconds = %s", got)
	}
	if got := formatSeconds(0); got != "0h00m00s" {
		t.Fatalf("formatSeconds(0) = %s", got)
	}
}
