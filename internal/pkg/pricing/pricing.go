// Package pricing converts between Robux quantities and BRL charges.
// All functions are pure; callers enforce positivity and the minimum charge.
package pricing

import "math"

// RetainedFraction is the share of a Game Pass price the seller keeps after the platform fee.
const RetainedFraction = 0.7

// GrossNeeded returns the Game Pass price required for the seller to net `net` Robux.
// It is ceil(net / 0.7) in float64, so some inputs (21, 42, 161) land one above the exact
// rational ceiling. Storefront quotes depend on these exact values.
func GrossNeeded(net int64) int64 {
	return int64(math.Ceil(float64(net) / RetainedFraction))
}

// UnitCost converts a gross unit price into the effective cost per net unit.
func UnitCost(grossUnitPrice float64) float64 {
	return grossUnitPrice / RetainedFraction
}

// ChargeAmount returns the charge in cents for netQuantity units sold at unitSalePrice BRL each.
// Half cents round up.
func ChargeAmount(netQuantity int64, unitSalePrice float64) int64 {
	return int64(math.Floor(float64(netQuantity)*unitSalePrice*100 + 0.5))
}

// QuantityForAmount is the inverse of ChargeAmount: how many units amountMinor cents buys.
func QuantityForAmount(amountMinor int64, unitSalePrice float64) int64 {
	if unitSalePrice <= 0 {
		return 0
	}
	// 1e-9 absorbs representation error so an exact ChargeAmount round-trips.
	return int64(math.Floor(float64(amountMinor)/(unitSalePrice*100) + 1e-9))
}

// Margin is the fraction of the sale price left after the cost basis.
func Margin(unitSalePrice, grossUnitCost float64) float64 {
	return (unitSalePrice - UnitCost(grossUnitCost)) / unitSalePrice
}

// WithMinimum raises amountMinor to the configured floor.
func WithMinimum(amountMinor, minimum int64) int64 {
	if amountMinor < minimum {
		return minimum
	}
	return amountMinor
}
