package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fvg-trade-bot-go/internal/config"
	"fvg-trade-bot-go/internal/models"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema. Existing rows are kept:
// trade history and state snapshots must survive restarts.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.TradeRecord{},
		&models.SetupEvent{},
		&models.StateSnapshot{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
