package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"tool-factory/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize opens the local sqlite database and runs migrations.
func Initialize(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	// Serialize writers; sqlite handles one writer at a time anyway.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database initialized successfully")
	return db, nil
}

// Migrate ensures all tables and indexes exist.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Tool{},
		&models.DailyMetric{},
		&models.IngestedEvent{},
		&models.ContentItem{},
		&models.RunRecord{},
		&models.RunAction{},
		&models.RunLock{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
