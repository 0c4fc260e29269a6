package risk

import (
	"github.com/shopspring/decimal"
)

// PositionSizer calculates order quantities from risk parameters.
type PositionSizer struct {
	lotSize decimal.Decimal
}

// NewPositionSizer creates a sizer that rounds down to multiples of lotSize.
// A non-positive lotSize means whole units.
func NewPositionSizer(lotSize decimal.Decimal) *PositionSizer {
	if !lotSize.IsPositive() {
		lotSize = decimal.NewFromInt(1)
	}
	return &PositionSizer{lotSize: lotSize}
}

// Calculate determines the quantity that risks riskPct of equity when the
// stop is stopDistance away from entry.
//
// Formula:
//
//	capital_at_risk = equity * riskPct
//	quantity = floor(capital_at_risk / stopDistance / lot) * lot
//
// Returns zero for non-positive inputs.
func (p *PositionSizer) Calculate(equity, riskPct, stopDistance decimal.Decimal) decimal.Decimal {
	if !equity.IsPositive() || !riskPct.IsPositive() || !stopDistance.IsPositive() {
		return decimal.Zero
	}

	capitalAtRisk := equity.Mul(riskPct)
	return p.round(capitalAtRisk.Div(stopDistance))
}

// MaxQuantity returns the largest quantity whose notional at price fits in
// cash scaled by leverage. Zero leverage means fully funded.
func (p *PositionSizer) MaxQuantity(cash, price, leverage decimal.Decimal) decimal.Decimal {
	if !cash.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	return p.round(cash.Mul(leverage).Div(price))
}

// Clamp returns the smaller of calculated and max.
func (p *PositionSizer) Clamp(calculated, max decimal.Decimal) decimal.Decimal {
	return decimal.Min(calculated, max)
}

func (p *PositionSizer) round(qty decimal.Decimal) decimal.Decimal {
	lots := qty.Div(p.lotSize).Floor()
	if lots.IsNegative() {
		return decimal.Zero
	}
	return lots.Mul(p.lotSize)
}
