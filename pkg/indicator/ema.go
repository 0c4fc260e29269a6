package indicator

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// EMA calculates Exponential Moving Average of closes.
// The first value is the SMA of the first period closes.
type EMA struct {
	period int
	alpha  decimal.Decimal
	seed   *SMA
	value  decimal.Decimal
	ready  bool
	hist   history
}

// NewEMA creates a new EMA calculator with smoothing 2/(period+1).
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{
		period: period,
		alpha:  decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1))),
		seed:   NewSMA(period),
		hist:   newHistory(DefaultHistory),
	}
}

// Update implements Indicator using the tick close.
func (e *EMA) Update(tick types.Tick) error {
	if err := validateTick(tick); err != nil {
		return err
	}
	e.Add(tick.Close)
	return nil
}

// Add adds a new value and returns the current EMA, zero until ready.
func (e *EMA) Add(value decimal.Decimal) decimal.Decimal {
	if !e.ready {
		avg := e.seed.Add(value)
		if !e.seed.Ready() {
			return decimal.Zero
		}
		e.value = avg
		e.ready = true
	} else {
		// ema = prev + alpha * (value - prev)
		e.value = e.value.Add(e.alpha.Mul(value.Sub(e.value)))
	}
	e.hist.push(e.value)
	return e.value
}

// Value returns the latest EMA.
func (e *EMA) Value() (decimal.Decimal, error) {
	return e.hist.latest()
}

// At returns the EMA i updates ago.
func (e *EMA) At(i int) (decimal.Decimal, error) {
	return e.hist.at(i)
}

// Ready returns true once the seed period is complete.
func (e *EMA) Ready() bool {
	return e.ready
}

// Period returns the EMA period.
func (e *EMA) Period() int {
	return e.period
}

// Reset clears all data.
func (e *EMA) Reset() {
	e.seed.Reset()
	e.value = decimal.Zero
	e.ready = false
	e.hist.reset()
}
