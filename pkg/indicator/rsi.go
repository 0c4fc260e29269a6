package indicator

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

var hundred = decimal.NewFromInt(100)

// RSI calculates the Relative Strength Index from close-to-close changes.
//
// Without smoothing the averages are simple means over the last period
// changes. With smoothing they follow Wilder:
//
//	avg = (prev_avg * (period - 1) + current) / period
type RSI struct {
	period    int
	smooth    bool
	prevClose decimal.Decimal
	count     int
	gains     *SMA
	losses    *SMA
	avgGain   decimal.Decimal
	avgLoss   decimal.Decimal
	ready     bool
	hist      history
}

// NewRSI creates a new RSI calculator.
func NewRSI(period int, smooth bool) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{
		period: period,
		smooth: smooth,
		gains:  NewSMA(period),
		losses: NewSMA(period),
		hist:   newHistory(DefaultHistory),
	}
}

// Update implements Indicator using the tick close.
func (r *RSI) Update(tick types.Tick) error {
	if err := validateTick(tick); err != nil {
		return err
	}
	r.Add(tick.Close)
	return nil
}

// Add adds a close and returns the current RSI, zero until ready.
func (r *RSI) Add(close decimal.Decimal) decimal.Decimal {
	r.count++
	if r.count == 1 {
		r.prevClose = close
		return decimal.Zero
	}

	change := close.Sub(r.prevClose)
	r.prevClose = close

	gain, loss := decimal.Zero, decimal.Zero
	if change.IsPositive() {
		gain = change
	} else {
		loss = change.Neg()
	}

	switch {
	case !r.ready:
		r.avgGain = r.gains.Add(gain)
		r.avgLoss = r.losses.Add(loss)
		if !r.gains.Ready() {
			return decimal.Zero
		}
		r.ready = true
	case r.smooth:
		n := decimal.NewFromInt(int64(r.period))
		prior := decimal.NewFromInt(int64(r.period - 1))
		r.avgGain = r.avgGain.Mul(prior).Add(gain).Div(n)
		r.avgLoss = r.avgLoss.Mul(prior).Add(loss).Div(n)
	default:
		r.avgGain = r.gains.Add(gain)
		r.avgLoss = r.losses.Add(loss)
	}

	value := rsiFrom(r.avgGain, r.avgLoss)
	r.hist.push(value)
	return value
}

// rsi = 100 - 100 / (1 + avgGain/avgLoss)
func rsiFrom(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			return decimal.NewFromInt(50)
		}
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// Value returns the latest RSI.
func (r *RSI) Value() (decimal.Decimal, error) {
	return r.hist.latest()
}

// At returns the RSI i updates ago.
func (r *RSI) At(i int) (decimal.Decimal, error) {
	return r.hist.at(i)
}

// Ready returns true once period changes have been seen.
func (r *RSI) Ready() bool {
	return r.ready
}

// Period returns the RSI period.
func (r *RSI) Period() int {
	return r.period
}

// Reset clears all data.
func (r *RSI) Reset() {
	r.prevClose = decimal.Zero
	r.count = 0
	r.gains.Reset()
	r.losses.Reset()
	r.avgGain = decimal.Zero
	r.avgLoss = decimal.Zero
	r.ready = false
	r.hist.reset()
}
