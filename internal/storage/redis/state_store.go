package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zinwlad/game-timer/internal/storage"
)

type stateStore struct {
	client *redis.Client
	keys   keyspace
}

func (s *stateStore) GetRestPeriod(ctx context.Context) (*storage.RestPeriod, error) {
	data, err := s.client.HGetAll(ctx, s.keys.restPeriod()).Result()
	if err != nil {
		return nil, err
	}
	return parseRestPeriod(data)
}

func (s *stateStore) PutRestPeriod(ctx context.Context, rest storage.RestPeriod) error {
	limitReached := ""
	if !rest.LimitReachedOn.IsZero() {
		limitReached = rest.LimitReachedOn.Format(time.RFC3339Nano)
	}
	return s.client.HSet(ctx, s.keys.restPeriod(),
		"until", rest.Until.Format(time.RFC3339Nano),
		"reason", string(rest.Reason),
		"limit_reached_on", limitReached,
	).Err()
}

func (s *stateStore) ClearRestPeriod(ctx context.Context) error {
	return s.client.Del(ctx, s.keys.restPeriod()).Err()
}

func (s *stateStore) GetTimerState(ctx context.Context) (*storage.TimerState, error) {
	data, err := s.client.HGetAll(ctx, s.keys.timerState()).Result()
	if err != nil {
		return nil, err
	}
	return parseTimerState(data)
}

func (s *stateStore) PutTimerState(ctx context.Context, state storage.TimerState) error {
	return s.client.HSet(ctx, s.keys.timerState(), map[string]interface{}{
		"mode":              string(state.Mode),
		"initial_seconds":   state.InitialSeconds,
		"remaining_seconds": state.RemainingSeconds,
		"elapsed_seconds":   state.ElapsedSeconds,
		"running":           state.Running,
		"paused":            state.Paused,
		"expired":           state.Expired,
		"saved_at":          state.SavedAt.Format(time.RFC3339Nano),
	}).Err()
}
