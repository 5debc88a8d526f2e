package storage

import (
	"fmt"
	"time"
)

// UsageRecord states that a process ran for DurationSeconds, attributed
// to the instant Timestamp (second precision).
type UsageRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	ProcessName     string    `json:"process_name"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// Key identifies a record for upsert purposes.
func (r UsageRecord) Key() RecordKey {
	return RecordKey{Unix: r.Timestamp.Unix(), ProcessName: r.ProcessName}
}

// Validate checks a record before it is stored.
func (r UsageRecord) Validate() error {
	if r.ProcessName == "" {
		return fmt.Errorf("%w: empty process name", ErrInvalid)
	}
	if r.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d", ErrInvalid, r.DurationSeconds)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalid)
	}
	return nil
}

// RecordKey is the upsert key of a UsageRecord.
type RecordKey struct {
	Unix        int64
	ProcessName string
}

// RestReason says why a rest period was opened.
type RestReason string

const (
	RestDailyLimitExceeded RestReason = "daily_limit_exceeded"
	RestPostBlockCooldown  RestReason = "post_block_cooldown"
	RestPolicyRestricted   RestReason = "policy_restricted"
)

// RestPeriod is a persisted mandatory rest window. LimitReachedOn is the
// start of the day the daily limit fired while the window was open; it is
// zero if the limit did not fire.
type RestPeriod struct {
	Until          time.Time  `json:"until"`
	Reason         RestReason `json:"reason"`
	LimitReachedOn time.Time  `json:"limit_reached_on"`
}

// TimerMode selects countdown or count-up behaviour.
type TimerMode string

const (
	ModeCountdown TimerMode = "countdown"
	ModeCountUp   TimerMode = "countup"
)

// TimerState is the persisted form of the timer.
type TimerState struct {
	Mode             TimerMode `json:"mode"`
	InitialSeconds   int64     `json:"initial_seconds"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	ElapsedSeconds   int64     `json:"elapsed_seconds"`
	Running          bool      `json:"running"`
	Paused           bool      `json:"paused"`
	Expired          bool      `json:"expired"`
	SavedAt          time.Time `json:"saved_at"`
}
