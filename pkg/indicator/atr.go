package indicator

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// ATR calculates Average True Range.
// True Range = max(high - low, |high - prevClose|, |low - prevClose|)
type ATR struct {
	period    int
	prevClose decimal.Decimal
	trValues  []decimal.Decimal
	sum       decimal.Decimal
	count     int
	hist      history
}

// NewATR creates a new ATR calculator with the given period.
func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{
		period:   period,
		trValues: make([]decimal.Decimal, 0, period),
		hist:     newHistory(DefaultHistory),
	}
}

// Update implements Indicator using the tick range and close.
func (a *ATR) Update(tick types.Tick) error {
	if err := validateTick(tick); err != nil {
		return err
	}
	a.AddBar(tick.High, tick.Low, tick.Close)
	return nil
}

// AddBar calculates the True Range for one bar and returns the current ATR,
// zero until ready.
func (a *ATR) AddBar(high, low, close decimal.Decimal) decimal.Decimal {
	tr := high.Sub(low)
	if a.count > 0 {
		hpc := high.Sub(a.prevClose).Abs()
		lpc := low.Sub(a.prevClose).Abs()
		tr = decimal.Max(tr, hpc, lpc)
	}

	a.prevClose = close
	a.count++

	a.trValues = append(a.trValues, tr)
	a.sum = a.sum.Add(tr)

	if len(a.trValues) > a.period {
		a.sum = a.sum.Sub(a.trValues[0])
		a.trValues = a.trValues[1:]
	}

	if len(a.trValues) < a.period {
		return decimal.Zero
	}

	atr := a.sum.Div(decimal.NewFromInt(int64(a.period)))
	a.hist.push(atr)
	return atr
}

// Value returns the latest ATR.
func (a *ATR) Value() (decimal.Decimal, error) {
	return a.hist.latest()
}

// At returns the ATR i updates ago.
func (a *ATR) At(i int) (decimal.Decimal, error) {
	return a.hist.at(i)
}

// Ready returns true if enough data points have been collected.
func (a *ATR) Ready() bool {
	return len(a.trValues) >= a.period
}

// Period returns the ATR period.
func (a *ATR) Period() int {
	return a.period
}

// Reset clears all data.
func (a *ATR) Reset() {
	a.trValues = a.trValues[:0]
	a.sum = decimal.Zero
	a.prevClose = decimal.Zero
	a.count = 0
	a.hist.reset()
}
