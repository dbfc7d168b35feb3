package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.AuthToken{},
		&models.UserSettings{},
		&models.PartnerInvitation{},
		&models.Category{},
		&models.Event{},
		&models.Reminder{},
		&models.EventHistory{},
		&models.Todo{},
		&models.Notification{},
		&models.RateLimitBucket{},
	)
}
