package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/app/repository"
	"github.com/passgate/passgate/internal/pkg/apperr"
	"github.com/passgate/passgate/internal/pkg/pricing"
)

// SettingsController exposes the runtime pricing settings and the price calculator.
type SettingsController struct {
	settingRepo    repository.SettingRepository
	minChargeCents int64
}

func NewSettingsController(settingRepo repository.SettingRepository, minChargeCents int64) *SettingsController {
	return &SettingsController{settingRepo: settingRepo, minChargeCents: minChargeCents}
}

func (sc *SettingsController) pricing() (models.PricingSettings, error) {
	p, err := sc.settingRepo.GetPricing()
	if err != nil {
		return p, apperr.Internal("settings_unavailable", err)
	}
	return p, nil
}

// HandleGetSettings returns the unit sale price and cost basis.
func (sc *SettingsController) HandleGetSettings(c *fiber.Ctx) error {
	p, err := sc.pricing()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"unitSalePrice": p.UnitSalePrice,
		"grossUnitCost": p.GrossUnitCost,
	})
}

// HandleSaveSettings replaces the pricing settings. Mounted behind admin auth.
func (sc *SettingsController) HandleSaveSettings(c *fiber.Ctx) error {
	var req models.PricingSettings
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid_body", "request body is not valid JSON")
	}
	if err := req.Validate(); err != nil {
		return apperr.Validation("invalid_settings", "%s", validationMessage(err))
	}
	if err := sc.settingRepo.SavePricing(req); err != nil {
		return apperr.Internal("settings_save_failed", err)
	}
	log.Infof("[Settings] Pricing updated: unitSalePrice=%.4f grossUnitCost=%.4f", req.UnitSalePrice, req.GrossUnitCost)
	return c.JSON(fiber.Map{
		"unitSalePrice": req.UnitSalePrice,
		"grossUnitCost": req.GrossUnitCost,
		"margin":        pricing.Margin(req.UnitSalePrice, req.GrossUnitCost),
	})
}

// HandleQuote converts between a net quantity and a charge: ?net=<units> or ?amount=<cents>.
func (sc *SettingsController) HandleQuote(c *fiber.Ctx) error {
	p, err := sc.pricing()
	if err != nil {
		return err
	}

	var net int64
	switch {
	case c.Query("net") != "":
		net, err = strconv.ParseInt(c.Query("net"), 10, 64)
	case c.Query("amount") != "":
		var amount int64
		amount, err = strconv.ParseInt(c.Query("amount"), 10, 64)
		if err == nil && amount > 0 {
			net = pricing.QuantityForAmount(amount, p.UnitSalePrice)
		}
	default:
		return apperr.Validation("invalid_amount", "net or amount is required")
	}
	if err != nil || net <= 0 {
		return apperr.Validation("invalid_amount", "quantity must be a positive integer")
	}

	return c.JSON(fiber.Map{
		"netQuantity": net,
		"grossNeeded": pricing.GrossNeeded(net),
		"amountMinor": pricing.WithMinimum(pricing.ChargeAmount(net, p.UnitSalePrice), sc.minChargeCents),
	})
}
