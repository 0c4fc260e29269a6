package risk

import (
	"github.com/shopspring/decimal"
)

// HighWaterMarkTracker tracks peak equity and the deepest drawdown from it.
// Not safe for concurrent use; the backtest runner owns one per run.
type HighWaterMarkTracker struct {
	peak        decimal.Decimal
	current     decimal.Decimal
	maxDrawdown decimal.Decimal
}

// NewHighWaterMarkTracker creates a new tracker with initial equity.
func NewHighWaterMarkTracker(initialEquity decimal.Decimal) *HighWaterMarkTracker {
	return &HighWaterMarkTracker{
		peak:    initialEquity,
		current: initialEquity,
	}
}

// Update records equity and returns true if it set a new peak.
func (h *HighWaterMarkTracker) Update(equity decimal.Decimal) bool {
	h.current = equity

	if equity.GreaterThan(h.peak) {
		h.peak = equity
		return true
	}

	if dd := h.Drawdown(); dd.GreaterThan(h.maxDrawdown) {
		h.maxDrawdown = dd
	}
	return false
}

// Current returns the last recorded equity.
func (h *HighWaterMarkTracker) Current() decimal.Decimal {
	return h.current
}

// Peak returns the high water mark.
func (h *HighWaterMarkTracker) Peak() decimal.Decimal {
	return h.peak
}

// Drawdown returns (peak - current) / peak. 0.15 means 15%.
func (h *HighWaterMarkTracker) Drawdown() decimal.Decimal {
	if !h.peak.IsPositive() || h.current.GreaterThanOrEqual(h.peak) {
		return decimal.Zero
	}
	return h.peak.Sub(h.current).Div(h.peak)
}

// MaxDrawdown returns the deepest drawdown seen since construction.
func (h *HighWaterMarkTracker) MaxDrawdown() decimal.Decimal {
	return h.maxDrawdown
}
