// Package risk implements funds and margin checks, position sizing and
// drawdown tracking for the backtester.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// MarginChecker decides whether cash covers a fill that grows exposure.
type MarginChecker struct {
	margin  decimal.Decimal
	enabled bool
}

// NewMarginChecker creates a checker. margin is the fraction of notional
// that must be held in cash; zero means no requirement.
func NewMarginChecker(margin decimal.Decimal, enabled bool) *MarginChecker {
	return &MarginChecker{
		margin:  margin,
		enabled: enabled,
	}
}

// Enabled returns true if checks are enforced.
func (m *MarginChecker) Enabled() bool {
	return m.enabled
}

// Leverage returns 1/margin, or zero for unlimited leverage.
func (m *MarginChecker) Leverage() decimal.Decimal {
	if m.margin.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Div(m.margin)
}

// Required returns the cash needed to grow exposure by increase at price.
//
// Formula:
//
//	required = increase * price * margin + commission
func (m *MarginChecker) Required(increase, price, commission decimal.Decimal) decimal.Decimal {
	return increase.Mul(price).Mul(m.margin).Add(commission)
}

// Check returns ErrInsufficientFunds (fully funded accounts) or
// ErrInsufficientMargin (leveraged accounts) when cash does not cover the
// requirement. Pure reductions always pass.
func (m *MarginChecker) Check(cash, increase, price, commission decimal.Decimal) error {
	if !m.enabled || !increase.IsPositive() || m.margin.IsZero() {
		return nil
	}

	required := m.Required(increase, price, commission)
	if required.LessThanOrEqual(cash) {
		return nil
	}

	sentinel := types.ErrInsufficientMargin
	if m.margin.Equal(decimal.NewFromInt(1)) {
		sentinel = types.ErrInsufficientFunds
	}
	return fmt.Errorf("%w: need %s, have %s", sentinel, required.StringFixed(2), cash.StringFixed(2))
}
