package repository

import (
	"github.com/passgate/passgate/app/models"
	"gorm.io/gorm"
)

// SettingRepository defines the interface for runtime settings stored in the database
type SettingRepository interface {
	GetPricing() (models.PricingSettings, error)
	SavePricing(settings models.PricingSettings) error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// BuyerRepository defines the interface for storefront user to platform account links
type BuyerRepository interface {
	Link(buyer *models.Buyer) error
	GetByUserID(userID string) (*models.Buyer, error)
	GetByUsername(username string) (*models.Buyer, error)
}

// Repositories groups the stores the service is built on
type Repositories struct {
	Setting SettingRepository
	Buyer   BuyerRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Setting: NewSettingRepository(db),
		Buyer:   NewBuyerRepository(db),
	}
}
