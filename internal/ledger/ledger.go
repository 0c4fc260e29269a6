// Package ledger tracks net positions per symbol with weighted-average cost.
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// Epsilon is the magnitude at or below which a position counts as flat.
var Epsilon = decimal.New(1, -6)

// Ledger holds one signed position per symbol.
// Not safe for concurrent use; the owning broker serializes access.
type Ledger struct {
	positions map[string]types.Position
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]types.Position),
	}
}

// Apply books a fill of qty at price and returns the resulting position.
// The returned bool is false when the position was closed or never opened.
//
// Adding in the direction of the position moves the average to the
// quantity-weighted mean. Reducing keeps the average. Crossing through
// zero opens the remainder at price.
func (l *Ledger) Apply(symbol string, side types.Side, qty, price decimal.Decimal) (types.Position, bool) {
	pos, exists := l.positions[symbol]
	if qty.IsZero() {
		return pos, exists
	}

	delta := qty.Mul(side.Sign())
	if !exists {
		pos = types.Position{Symbol: symbol, Quantity: decimal.Zero, AvgPrice: price}
	}

	next := pos.Quantity.Add(delta)

	switch {
	case pos.Quantity.IsZero():
		pos.AvgPrice = price
	case pos.Quantity.Sign() == delta.Sign():
		held := pos.Quantity.Abs()
		total := held.Add(qty)
		pos.AvgPrice = held.Mul(pos.AvgPrice).Add(qty.Mul(price)).Div(total)
	case next.Sign() != 0 && next.Sign() != pos.Quantity.Sign():
		pos.AvgPrice = price
	}
	pos.Quantity = next

	if pos.Quantity.Abs().LessThanOrEqual(Epsilon) {
		delete(l.positions, symbol)
		return types.Position{Symbol: symbol}, false
	}

	l.positions[symbol] = pos
	return pos, true
}

// Position returns the position for symbol.
func (l *Ledger) Position(symbol string) (types.Position, bool) {
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Quantity returns the signed quantity held in symbol, zero when flat.
func (l *Ledger) Quantity(symbol string) decimal.Decimal {
	return l.positions[symbol].Quantity
}

// Positions returns all open positions sorted by symbol.
func (l *Ledger) Positions() []types.Position {
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	return len(l.positions)
}

// Increase returns how much a fill of qty on side would grow the absolute
// exposure in symbol. Pure reductions return zero.
func (l *Ledger) Increase(symbol string, side types.Side, qty decimal.Decimal) decimal.Decimal {
	held := l.positions[symbol].Quantity
	after := held.Add(qty.Mul(side.Sign()))
	// A flip closes the old side first, so only the new side counts.
	if held.Sign() != 0 && after.Sign() != 0 && held.Sign() != after.Sign() {
		return after.Abs()
	}
	grow := after.Abs().Sub(held.Abs())
	if grow.IsNegative() {
		return decimal.Zero
	}
	return grow
}

// MarketValue returns the signed value of all positions. Symbols missing
// from marks are valued at their average price.
func (l *Ledger) MarketValue(marks map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for symbol, p := range l.positions {
		price, ok := marks[symbol]
		if !ok {
			price = p.AvgPrice
		}
		total = total.Add(p.MarketValue(price))
	}
	return total
}
