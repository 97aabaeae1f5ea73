// Package storage is the durable session store for handoff sessions, their
// messages and settings, plus the Redis primitives shared across instances.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SessionFilter narrows admin session listings.
type SessionFilter struct {
	Status models.SessionStatus
	Limit  int
}

type Storage interface {
	CreateSession(ctx context.Context, session *models.HandoffSession) (*models.HandoffSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.HandoffSession, error)
	GetActiveSession(ctx context.Context, conversationID string) (*models.HandoffSession, error)
	AcceptSession(ctx context.Context, sessionID, adminID, adminName string, at time.Time) (*models.HandoffSession, error)
	EndSession(ctx context.Context, sessionID string, at time.Time) (*models.HandoffSession, bool, error)
	TimeoutSession(ctx context.Context, sessionID string, at time.Time) (*models.HandoffSession, bool, error)

	ListWaiting(ctx context.Context) ([]models.HandoffSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]models.HandoffSession, error)
	ListOverdue(ctx context.Context, now time.Time, fallback time.Duration) ([]models.HandoffSession, error)

	SaveMessage(ctx context.Context, msg *models.HandoffMessage) (bool, error)
	GetMessages(ctx context.Context, sessionID string) ([]models.HandoffMessage, error)
	PruneMessages(ctx context.Context, endedBefore time.Time) (int64, error)

	GetSettings(ctx context.Context) (*config.HandoffSettings, error)
	SaveSettings(ctx context.Context, settings config.HandoffSettings, updatedBy string) error

	Ping(ctx context.Context) error
}

// ErrRedisDisabled is returned by Redis-backed operations when no client is configured.
var ErrRedisDisabled = errors.New("redis is not configured")

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// gormWriter routes gorm's warnings and errors to zerolog.
type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Msgf(format, args...)
}

// newGormLogger logs slow queries and errors, but not lookups that found
// nothing, which are routine for status polls.
func newGormLogger(l zerolog.Logger) logger.Interface {
	return logger.New(gormWriter{logger: l}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Open connects to the configured database and migrates the handoff schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(log.With().Str("component", "gorm").Logger()),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: pool: %w", err)
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(config.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(config.DBMaxIdleConns)
		sqlDB.SetConnMaxLifetime(config.DBConnMaxLifetime)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the handoff tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// AllModels lists every table owned by the store.
func AllModels() []interface{} {
	return []interface{}{
		&models.HandoffSession{},
		&models.HandoffMessage{},
		&models.HandoffSetting{},
	}
}

func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: database ping: %w", err)
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("storage: redis ping: %w", err)
		}
	}
	return nil
}
