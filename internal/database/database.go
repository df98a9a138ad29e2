// Package database owns the gorm connection and schema migration.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/entities"
)

type Database struct {
	DB *gorm.DB
}

// NewDatabase opens the relational store using the configured driver and
// migrates the schema. Sqlite is the default for local development; production
// sets DATABASE_DRIVER=postgres with a DSN.
func NewDatabase(cfg config.Database) (*Database, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver selected but DATABASE_DSN is empty")
		}
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return &Database{DB: db}, nil
}

// Migrate auto-migrates every entity. Exposed separately so tests can migrate
// an in-memory sqlite database without going through config.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&entities.CruiseLine{},
		&entities.Ship{},
		&entities.Port{},
		&entities.Region{},
		&entities.Sailing{},
		&entities.SailingRegion{},
		&entities.SailingPort{},
		&entities.ItineraryDay{},
		&entities.PriceSnapshot{},
		&entities.SyncCheckpoint{},
		&entities.SyncJob{},
		&entities.WorkerHeartbeat{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
