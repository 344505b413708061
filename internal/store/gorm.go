package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// Supported GORM drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// observationRecord is the persisted row. The composite index serves the
// identity + age lookup on the hot path.
type observationRecord struct {
	ID          uint      `gorm:"primaryKey"`
	City        string    `gorm:"size:100;not null;index:idx_observation_identity,priority:1"`
	Country     string    `gorm:"size:100;not null;default:'';index:idx_observation_identity,priority:2"`
	Temperature float64   `gorm:"not null"`
	Description string    `gorm:"size:255"`
	CreatedAt   time.Time `gorm:"index:idx_observation_identity,priority:3"`
}

func (observationRecord) TableName() string { return "weather_observations" }

func (r observationRecord) toModel() models.Observation {
	return models.Observation{
		City:        r.City,
		Country:     r.Country,
		Temperature: r.Temperature,
		Description: r.Description,
		ObservedAt:  r.CreatedAt.UTC(),
	}
}

// GormStore implements Store on SQLite or MySQL through GORM.
type GormStore struct {
	db *gorm.DB
}

// Options configures Open.
type Options struct {
	Logger        *zap.Logger
	SlowThreshold time.Duration
	Clock         Clock
	MaxOpenConns  int
}

// Open connects to the database, migrates the schema and returns a GormStore.
// driver is DriverSQLite (dsn is a file path or "file::memory:") or DriverMySQL.
func Open(driver, dsn string, opts Options) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	clock := opts.Clock
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  observability.NewGormLogger(opts.Logger, opts.SlowThreshold),
		NowFunc: clock.now,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := db.AutoMigrate(&observationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate %s database: %w", driver, err)
	}
	return &GormStore{db: db}, nil
}

// FindLatest implements Store.FindLatest.
func (s *GormStore) FindLatest(ctx context.Context, city, country string, notOlderThan time.Time) (models.Observation, bool, error) {
	var rec observationRecord
	err := s.db.WithContext(ctx).
		Where("city = ? AND country = ? AND created_at >= ?", city, country, notOlderThan.UTC()).
		Order("created_at DESC").
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Observation{}, false, nil
	}
	if err != nil {
		return models.Observation{}, false, fmt.Errorf("%w: find latest %s/%s: %w", ErrStoreFault, city, country, err)
	}
	return rec.toModel(), true, nil
}

// Insert implements Store.Insert. The row's CreatedAt is left zero so GORM
// stamps it with the configured clock.
func (s *GormStore) Insert(ctx context.Context, obs models.Observation) (models.Observation, error) {
	city, country := models.NormalizeIdentity(obs.City, obs.Country)
	rec := observationRecord{
		City:        city,
		Country:     country,
		Temperature: obs.Temperature,
		Description: obs.Description,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return models.Observation{}, fmt.Errorf("%w: insert %s/%s: %w", ErrStoreFault, city, country, err)
	}
	return rec.toModel(), nil
}

// List implements Store.List.
func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]models.Observation, error) {
	f := filter.normalized()
	q := s.db.WithContext(ctx).Model(&observationRecord{})
	if f.City != "" {
		q = q.Where("city = ?", f.City)
	}
	if f.HasCountry {
		q = q.Where("country = ?", f.Country)
	}
	var recs []observationRecord
	if err := q.Order("created_at DESC").Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStoreFault, err)
	}
	out := make([]models.Observation, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Ping checks database reachability. Used for health checks.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFault, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStoreFault, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
