package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/zinwlad/game-timer/internal/storage"
)

// parseUsageRecord converts a Redis hash to UsageRecord
func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	ts, err := strconv.ParseInt(data["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	duration, err := strconv.ParseInt(data["duration_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_seconds: %w", err)
	}

	return &storage.UsageRecord{
		Timestamp:       time.Unix(ts, 0),
		ProcessName:     data["process_name"],
		DurationSeconds: duration,
	}, nil
}

// parseRestPeriod converts a Redis hash to RestPeriod
func parseRestPeriod(data map[string]string) (*storage.RestPeriod, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	until, err := time.Parse(time.RFC3339Nano, data["until"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse until: %w", err)
	}

	rest := &storage.RestPeriod{
		Until:  until,
		Reason: storage.RestReason(data["reason"]),
	}
	if v := data["limit_reached_on"]; v != "" {
		day, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse limit_reached_on: %w", err)
		}
		rest.LimitReachedOn = day
	}
	return rest, nil
}

// parseTimerState converts a Redis hash to TimerState
func parseTimerState(data map[string]string) (*storage.TimerState, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	ints := make(map[string]int64, 3)
	for _, field := range []string{"initial_seconds", "remaining_seconds", "elapsed_seconds"} {
		v, err := strconv.ParseInt(data[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		ints[field] = v
	}

	bools := make(map[string]bool, 3)
	for _, field := range []string{"running", "paused", "expired"} {
		v, err := strconv.ParseBool(data[field])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		bools[field] = v
	}

	savedAt, err := time.Parse(time.RFC3339Nano, data["saved_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse saved_at: %w", err)
	}

	return &storage.TimerState{
		Mode:             storage.TimerMode(data["mode"]),
		InitialSeconds:   ints["initial_seconds"],
		RemainingSeconds: ints["remaining_seconds"],
		ElapsedSeconds:   ints["elapsed_seconds"],
		Running:          bools["running"],
		Paused:           bools["paused"],
		Expired:          bools["expired"],
		SavedAt:          savedAt,
	}, nil
}

// ceilUnix returns the first whole second at or after t.
func ceilUnix(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}
