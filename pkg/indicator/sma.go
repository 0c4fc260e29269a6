package indicator

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// SMA calculates Simple Moving Average of closes.
type SMA struct {
	period int
	values []decimal.Decimal
	sum    decimal.Decimal
	hist   history
}

// NewSMA creates a new SMA calculator with the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		values: make([]decimal.Decimal, 0, period),
		sum:    decimal.Zero,
		hist:   newHistory(DefaultHistory),
	}
}

// Update implements Indicator using the tick close.
func (s *SMA) Update(tick types.Tick) error {
	if err := validateTick(tick); err != nil {
		return err
	}
	s.Add(tick.Close)
	return nil
}

// Add adds a new value and returns the current SMA.
// Returns zero if not enough data points yet.
func (s *SMA) Add(value decimal.Decimal) decimal.Decimal {
	s.values = append(s.values, value)
	s.sum = s.sum.Add(value)

	if len(s.values) > s.period {
		s.sum = s.sum.Sub(s.values[0])
		s.values = s.values[1:]
	}

	if len(s.values) < s.period {
		return decimal.Zero
	}

	avg := s.sum.Div(decimal.NewFromInt(int64(s.period)))
	s.hist.push(avg)
	return avg
}

// Value returns the latest SMA.
func (s *SMA) Value() (decimal.Decimal, error) {
	return s.hist.latest()
}

// At returns the SMA i updates ago.
func (s *SMA) At(i int) (decimal.Decimal, error) {
	return s.hist.at(i)
}

// Ready returns true if enough data points have been collected.
func (s *SMA) Ready() bool {
	return len(s.values) >= s.period
}

// Period returns the SMA period.
func (s *SMA) Period() int {
	return s.period
}

// Reset clears all data.
func (s *SMA) Reset() {
	s.values = s.values[:0]
	s.sum = decimal.Zero
	s.hist.reset()
}
