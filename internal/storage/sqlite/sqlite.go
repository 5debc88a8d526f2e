package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	keyRestPeriod = "rest_period"
	keyTimerState = "timer_state"
)

// Store implements storage.Store on a SQLite file through GORM.
type Store struct {
	db *gorm.DB
}

// Verify interface compliance at compile time
var _ storage.Store = (*Store)(nil)

// gormLogger routes GORM messages into zerolog.
type gormLogger struct {
	level  logger.LogLevel
	logger zerolog.Logger
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{level: level, logger: l.logger}
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.logger.Info().Msgf(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.logger.Warn().Msgf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.logger.Error().Msgf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level < logger.Warn {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.logger.Error().Err(err).Dur("duration", elapsed).Str("sql", sql).Int64("rows", rows).Msg("gorm query error")
	case elapsed > 200*time.Millisecond:
		l.logger.Warn().Dur("duration", elapsed).Str("sql", sql).Int64("rows", rows).Msg("slow query")
	case l.level >= logger.Info:
		l.logger.Debug().Dur("duration", elapsed).Str("sql", sql).Int64("rows", rows).Msg("gorm query")
	}
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	gormLog := (&gormLogger{logger: log.With().Str("component", "sqlite").Logger()}).LogMode(logger.Warn)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: false,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		Logger:      gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA synchronous=NORMAL")

	if err := db.AutoMigrate(&UsageStatModel{}, &EngineStateModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Usage returns the usage store.
func (s *Store) Usage() storage.UsageStore { return &usageStore{db: s.db} }

// State returns the state store.
func (s *Store) State() storage.StateStore { return &stateStore{db: s.db} }

type usageStore struct {
	db *gorm.DB
}

func (u *usageStore) UpsertRecords(ctx context.Context, records []storage.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]UsageStatModel, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		rows = append(rows, UsageStatModel{
			Timestamp:   r.Timestamp.Unix(),
			ProcessName: r.ProcessName,
			Duration:    r.DurationSeconds,
		})
	}
	return u.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
}

func (u *usageStore) ListRecords(ctx context.Context, start, end time.Time) ([]storage.UsageRecord, error) {
	var rows []UsageStatModel
	err := u.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", ceilUnix(start), ceilUnix(end)).
		Order("timestamp ASC, process_name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query usage_stats: %w", err)
	}
	records := make([]storage.UsageRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, storage.UsageRecord{
			Timestamp:       time.Unix(row.Timestamp, 0),
			ProcessName:     row.ProcessName,
			DurationSeconds: row.Duration,
		})
	}
	return records, nil
}

func (u *usageStore) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result := u.db.WithContext(ctx).
		Where("timestamp < ?", ceilUnix(cutoff)).
		Delete(&UsageStatModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

type stateStore struct {
	db *gorm.DB
}

func (s *stateStore) GetRestPeriod(ctx context.Context) (*storage.RestPeriod, error) {
	var rest storage.RestPeriod
	if err := s.get(ctx, keyRestPeriod, &rest); err != nil {
		return nil, err
	}
	return &rest, nil
}

func (s *stateStore) PutRestPeriod(ctx context.Context, rest storage.RestPeriod) error {
	return s.put(ctx, keyRestPeriod, rest)
}

func (s *stateStore) ClearRestPeriod(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("state_key = ?", keyRestPeriod).Delete(&EngineStateModel{}).Error
}

func (s *stateStore) GetTimerState(ctx context.Context) (*storage.TimerState, error) {
	var state storage.TimerState
	if err := s.get(ctx, keyTimerState, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *stateStore) PutTimerState(ctx context.Context, state storage.TimerState) error {
	return s.put(ctx, keyTimerState, state)
}

func (s *stateStore) get(ctx context.Context, key string, out any) error {
	var row EngineStateModel
	err := s.db.WithContext(ctx).Where("state_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(row.Value), out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *stateStore) put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&EngineStateModel{Key: key, Value: string(data)}).Error
}

// ceilUnix returns the first whole second at or after t.
func ceilUnix(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}
