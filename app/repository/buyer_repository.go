package repository

import (
	"strings"

	"github.com/passgate/passgate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type buyerRepository struct {
	db *gorm.DB
}

func NewBuyerRepository(db *gorm.DB) BuyerRepository {
	return &buyerRepository{db: db}
}

// Link creates or replaces the platform account linked to buyer.UserID.
func (r *buyerRepository) Link(buyer *models.Buyer) error {
	buyer.Username = strings.TrimSpace(buyer.Username)
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "external_id", "updated_at"}),
	}).Create(buyer).Error; err != nil {
		return err
	}
	var stored models.Buyer
	if err := r.db.Where("user_id = ?", buyer.UserID).First(&stored).Error; err != nil {
		return err
	}
	*buyer = stored
	return nil
}

func (r *buyerRepository) GetByUserID(userID string) (*models.Buyer, error) {
	var buyer models.Buyer
	if err := r.db.Where("user_id = ?", userID).First(&buyer).Error; err != nil {
		return nil, err
	}
	return &buyer, nil
}

// GetByUsername matches case-insensitively, platform usernames are not case sensitive.
func (r *buyerRepository) GetByUsername(username string) (*models.Buyer, error) {
	var buyer models.Buyer
	err := r.db.Where("LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))).
		Order("updated_at DESC").
		First(&buyer).Error
	if err != nil {
		return nil, err
	}
	return &buyer, nil
}
