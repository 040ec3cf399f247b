package database

import (
	"github.com/passgate/passgate/app/models"
	"gorm.io/gorm"
)

var DB *gorm.DB

func GetDB() *gorm.DB {
	return DB
}

// AutoMigrate keeps the gorm schema in step with the models. Production schema changes
// ship as SQL files in migrations/ and are applied with cmd/migrate.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Order{},
		&models.ProcessedEvent{},
		&models.Setting{},
		&models.Buyer{},
	)
}
