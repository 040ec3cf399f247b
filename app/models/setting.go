package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	SettingUnitSalePrice = "unit_sale_price"
	SettingGrossUnitCost = "gross_unit_cost"
)

const (
	DefaultUnitSalePrice = 0.20
	DefaultGrossUnitCost = 0.035
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:191;not null;uniqueIndex" json:"key" validate:"required,min=1,max=191"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PricingSettings holds the BRL price per currency unit and the cost basis.
type PricingSettings struct {
	UnitSalePrice float64 `json:"unitSalePrice" validate:"gt=0,lte=1000"`
	GrossUnitCost float64 `json:"grossUnitCost" validate:"gt=0,lte=1000"`
}

var settingsValidator = validator.New()

func DefaultPricingSettings() PricingSettings {
	return PricingSettings{UnitSalePrice: DefaultUnitSalePrice, GrossUnitCost: DefaultGrossUnitCost}
}

func (s PricingSettings) Validate() error {
	return settingsValidator.Struct(s)
}

// LoadPricingSettings reads pricing rows, keeping defaults for missing or unparsable values.
func LoadPricingSettings(db *gorm.DB) (PricingSettings, error) {
	out := DefaultPricingSettings()

	var rows []Setting
	if err := db.Where("setting_key IN ?", []string{SettingUnitSalePrice, SettingGrossUnitCost}).Find(&rows).Error; err != nil {
		return out, fmt.Errorf("failed to load settings: %w", err)
	}

	for _, row := range rows {
		v, err := strconv.ParseFloat(row.Value, 64)
		if err != nil || v <= 0 {
			continue
		}
		switch row.Key {
		case SettingUnitSalePrice:
			out.UnitSalePrice = v
		case SettingGrossUnitCost:
			out.GrossUnitCost = v
		}
	}
	return out, nil
}

// SavePricingSettings validates and upserts both pricing rows in one transaction.
func SavePricingSettings(db *gorm.DB, s PricingSettings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	values := map[string]float64{
		SettingUnitSalePrice: s.UnitSalePrice,
		SettingGrossUnitCost: s.GrossUnitCost,
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			formatted := strconv.FormatFloat(value, 'f', -1, 64)

			var setting Setting
			err := tx.Where("setting_key = ?", key).First(&setting).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				setting = Setting{Key: key, Value: formatted, Type: "float"}
				if err := tx.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
			case err != nil:
				return fmt.Errorf("failed to query setting %s: %w", key, err)
			default:
				setting.Value = formatted
				if err := tx.Save(&setting).Error; err != nil {
					return fmt.Errorf("failed to update setting %s: %w", key, err)
				}
			}
		}
		return nil
	})
}
