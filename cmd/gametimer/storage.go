package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/config"
	"github.com/zinwlad/game-timer/internal/storage"
	"github.com/zinwlad/game-timer/internal/storage/bolt"
	"github.com/zinwlad/game-timer/internal/storage/memory"
	"github.com/zinwlad/game-timer/internal/storage/redis"
	"github.com/zinwlad/game-timer/internal/storage/sqlite"
)

func openStorage(cfg config.StorageConfig, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "bolt", "":
		store, err := bolt.OpenOrRecover(cfg.Path, logger)
		if errors.Is(err, bolt.ErrLocked) {
			return nil, fmt.Errorf("%s is in use by another gametimer: %w", cfg.Path, err)
		}
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := redis.Open(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// openEngineStorage opens the configured store for the engine. A store
// that cannot be opened falls back to memory so enforcement keeps running;
// a store held by another instance is still fatal.
func openEngineStorage(cfg config.StorageConfig, logger zerolog.Logger) (storage.Store, error) {
	store, err := openStorage(cfg, logger)
	if err == nil {
		return store, nil
	}
	if errors.Is(err, bolt.ErrLocked) {
		return nil, err
	}
	logger.Error().
		Err(err).
		Str("type", cfg.Type).
		Msg("Storage unavailable, continuing with in-memory storage")
	return memory.New(), nil
}
