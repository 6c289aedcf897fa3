package database

import (
	"example.com/backstage/services/orderbot/config"
	"example.com/backstage/services/orderbot/internal/metrics"
	"example.com/backstage/services/orderbot/internal/models"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the write and read-only databases and configures their pools.
// The read-only handle falls back to the write handle when no replica DSN is set.
func Connect(cfg config.DatabaseConfig, collector *metrics.Metrics) (*gorm.DB, *gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if cfg.LogQueries {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	// Initialize write database
	db, err := gorm.Open(postgres.Open(cfg.DSN), gormConfig)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}
	if err := configurePool(db, cfg.MaxIdleConns, cfg.MaxOpenConns, cfg.ConnMaxLifetime); err != nil {
		return nil, nil, err
	}
	RegisterMetricsHooks(db, collector)

	if cfg.ReadOnlyDSN == "" {
		return db, db, nil
	}

	// Initialize read-only database
	readOnlyDB, err := gorm.Open(postgres.Open(cfg.ReadOnlyDSN), gormConfig)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Higher limits for read operations
	if err := configurePool(readOnlyDB, cfg.MaxIdleConns*2, cfg.MaxOpenConns*2, cfg.ConnMaxLifetime); err != nil {
		return nil, nil, err
	}
	RegisterMetricsHooks(readOnlyDB, collector)

	return db, readOnlyDB, nil
}

// Migrate runs the auto migrations on the write database
func Migrate(db *gorm.DB) error {
	if err := models.SetupModels(db); err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}
	return nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func configurePool(db *gorm.DB, maxIdle, maxOpen int, lifetime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(lifetime)
	return nil
}
