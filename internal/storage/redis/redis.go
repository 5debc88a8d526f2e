package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/config"
	"github.com/zinwlad/game-timer/internal/storage"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client     *redis.Client
	usageStore *usageStore
	stateStore *stateStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig, logger zerolog.Logger) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keys := newKeyspace(cfg.KeyPrefix)
	store := &Store{
		client:     client,
		usageStore: &usageStore{client: client, keys: keys, logger: logger},
		stateStore: &stateStore{client: client, keys: keys},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// State returns the StateStore implementation
func (s *Store) State() storage.StateStore {
	return s.stateStore
}

// keyspace builds every key the store touches from one prefix.
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = "gametimer"
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) usageIndex() string { return k.prefix + ":usage:index" }

func (k keyspace) recordPrefix() string { return k.prefix + ":usage:rec:" }

func (k keyspace) record(member string) string { return k.recordPrefix() + member }

func (k keyspace) restPeriod() string { return k.prefix + ":state:rest" }

func (k keyspace) timerState() string { return k.prefix + ":state:timer" }
