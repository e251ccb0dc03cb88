package db

import (
	"fmt"

	"github.com/zulandar/stylequeue/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model stylequeue persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Conversation{},
		&models.Claim{},
		&models.EmailDraft{},
		&models.SendRecord{},
		&models.CustomerProfile{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
