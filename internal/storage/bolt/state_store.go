package bolt

import (
	"context"

	"github.com/zinwlad/game-timer/internal/storage"
	"go.etcd.io/bbolt"
)

type stateStore struct {
	db *bbolt.DB
}

func (s *stateStore) GetRestPeriod(ctx context.Context) (*storage.RestPeriod, error) {
	return getBucketValue[storage.RestPeriod](ctx, s.db, bucketState, keyRestPeriod)
}

func (s *stateStore) PutRestPeriod(ctx context.Context, rest storage.RestPeriod) error {
	return putBucketValue(ctx, s.db, bucketState, keyRestPeriod, rest)
}

func (s *stateStore) ClearRestPeriod(ctx context.Context) error {
	return deleteBucketValue(ctx, s.db, bucketState, keyRestPeriod)
}

func (s *stateStore) GetTimerState(ctx context.Context) (*storage.TimerState, error) {
	return getBucketValue[storage.TimerState](ctx, s.db, bucketState, keyTimerState)
}

func (s *stateStore) PutTimerState(ctx context.Context, state storage.TimerState) error {
	return putBucketValue(ctx, s.db, bucketState, keyTimerState, state)
}
