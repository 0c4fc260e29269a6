package indicator

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// StdDev calculates population Standard Deviation of closes.
type StdDev struct {
	period int
	values []decimal.Decimal
	sma    *SMA
	hist   history
}

// NewStdDev creates a new StdDev calculator with the given period.
func NewStdDev(period int) *StdDev {
	if period < 1 {
		period = 1
	}
	return &StdDev{
		period: period,
		values: make([]decimal.Decimal, 0, period),
		sma:    NewSMA(period),
		hist:   newHistory(DefaultHistory),
	}
}

// Update implements Indicator using the tick close.
func (s *StdDev) Update(tick types.Tick) error {
	if err := validateTick(tick); err != nil {
		return err
	}
	s.Add(tick.Close)
	return nil
}

// Add adds a new value and returns the current standard deviation.
// Returns zero if not enough data points yet.
func (s *StdDev) Add(value decimal.Decimal) decimal.Decimal {
	s.values = append(s.values, value)
	mean := s.sma.Add(value)

	if len(s.values) > s.period {
		s.values = s.values[1:]
	}

	if len(s.values) < s.period {
		return decimal.Zero
	}

	sd := s.calculate(mean)
	s.hist.push(sd)
	return sd
}

// calculate returns sqrt(sum((x - mean)^2) / n).
func (s *StdDev) calculate(mean decimal.Decimal) decimal.Decimal {
	var sumSquares decimal.Decimal
	for _, v := range s.values {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}
	return Sqrt(sumSquares.Div(decimal.NewFromInt(int64(len(s.values)))))
}

// Value returns the latest standard deviation.
func (s *StdDev) Value() (decimal.Decimal, error) {
	return s.hist.latest()
}

// At returns the standard deviation i updates ago.
func (s *StdDev) At(i int) (decimal.Decimal, error) {
	return s.hist.at(i)
}

// Ready returns true if enough data points have been collected.
func (s *StdDev) Ready() bool {
	return len(s.values) >= s.period
}

// Period returns the StdDev period.
func (s *StdDev) Period() int {
	return s.period
}

// Mean returns the current mean, zero until ready.
func (s *StdDev) Mean() decimal.Decimal {
	v, err := s.sma.Value()
	if err != nil {
		return decimal.Zero
	}
	return v
}

// Reset clears all data.
func (s *StdDev) Reset() {
	s.values = s.values[:0]
	s.sma.Reset()
	s.hist.reset()
}

// Sqrt calculates the square root of a decimal using Newton's method,
// rounded to 8 places. Non-positive inputs return zero.
func Sqrt(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}

	guess := d.Div(decimal.NewFromInt(2))
	if guess.IsZero() {
		guess = decimal.NewFromInt(1)
	}

	// x_new = (x + d/x) / 2
	two := decimal.NewFromInt(2)
	epsilon := decimal.RequireFromString("0.00000001")

	for i := 0; i < 100; i++ {
		next := guess.Add(d.Div(guess)).Div(two)
		if next.Sub(guess).Abs().LessThan(epsilon) {
			return next.Round(8)
		}
		guess = next
	}

	return guess.Round(8)
}
