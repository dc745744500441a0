// Package store persists chambers, scenarios, schedules and their execution
// records with gorm.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prite36/growth-chamber-control/internal/models"
)

var (
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("resource conflict")
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the gorm-backed persistence layer.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to PostgreSQL using dsn.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, log), nil
}

// New wraps an already opened gorm handle.
func New(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "store").Logger()}
}

// Migrate creates or updates every table the service uses.
func (s *Store) Migrate(ctx context.Context) error {
	s.log.Info().Msg("auto-migrating database schema")
	err := s.db.WithContext(ctx).AutoMigrate(
		&models.Chamber{},
		&models.Scenario{},
		&models.Schedule{},
		&models.ScheduleExecution{},
		&models.ActuationHistory{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap(err, "ping")
	}
	return wrap(sqlDB.PingContext(ctx), "ping")
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// wrap maps driver errors onto the package sentinels. Anything that is not a
// missing row or a unique violation is reported as ErrUnavailable so callers
// can tell an outage apart from a legitimate empty answer.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.Detail)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
