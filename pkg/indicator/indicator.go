// Package indicator provides technical indicator calculations.
package indicator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

var (
	// ErrInsufficientData is returned before an indicator has seen a full period.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrIndexOutOfRange is returned by At for indexes beyond the kept history.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// DefaultHistory is the number of past values kept for At.
const DefaultHistory = 256

// Indicator is a tick-driven technical indicator.
type Indicator interface {
	// Update feeds one tick.
	Update(tick types.Tick) error
	// Value returns the latest value.
	Value() (decimal.Decimal, error)
	// At returns the value i updates ago. At(0) equals Value.
	At(i int) (decimal.Decimal, error)
	// Ready returns true once Value has a result.
	Ready() bool
	// Reset clears all state.
	Reset()
}

// history keeps the most recent computed values, newest last.
type history struct {
	values []decimal.Decimal
	limit  int
}

func newHistory(limit int) history {
	if limit < 1 {
		limit = DefaultHistory
	}
	return history{limit: limit}
}

func (h *history) push(v decimal.Decimal) {
	h.values = append(h.values, v)
	if len(h.values) > h.limit {
		h.values = h.values[len(h.values)-h.limit:]
	}
}

func (h *history) latest() (decimal.Decimal, error) {
	return h.at(0)
}

func (h *history) at(i int) (decimal.Decimal, error) {
	if len(h.values) == 0 {
		return decimal.Zero, ErrInsufficientData
	}
	if i < 0 || i >= len(h.values) {
		return decimal.Zero, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i, len(h.values))
	}
	return h.values[len(h.values)-1-i], nil
}

func (h *history) reset() {
	h.values = h.values[:0]
}

// validateTick rejects ticks that cannot feed an indicator.
func validateTick(tick types.Tick) error {
	if tick.Close.IsNegative() {
		return fmt.Errorf("%w: negative close %s", types.ErrInvalidData, tick.Close)
	}
	if tick.High.LessThan(tick.Low) {
		return fmt.Errorf("%w: high %s below low %s", types.ErrInvalidData, tick.High, tick.Low)
	}
	return nil
}
