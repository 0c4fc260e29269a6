// Package types defines shared types used across the backtester.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or fill.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "BUY":
		*s = SideBuy
	case "SELL":
		*s = SideSell
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, string(b))
	}
	return nil
}

// Tick represents one OHLCV market observation.
type Tick struct {
	Symbol string          `json:"symbol"`
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Position represents the net holding of a symbol.
// Quantity is signed: positive for long, negative for short.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// IsLong returns true for a positive quantity.
func (p Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// IsShort returns true for a negative quantity.
func (p Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// MarketValue returns the signed value of the position at the given price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// UnrealizedPL returns the open profit or loss at the given price.
func (p Position) UnrealizedPL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AvgPrice).Mul(p.Quantity)
}

// Fill is the realized result of an order executed against a tick.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    OrderID         `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Kind       OrderKind       `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Time       time.Time       `json:"time"`
}

// Notional returns quantity times price.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// CashDelta returns the signed change in cash caused by the fill.
func (f Fill) CashDelta() decimal.Decimal {
	if f.Side == SideBuy {
		return f.Notional().Add(f.Commission).Neg()
	}
	return f.Notional().Sub(f.Commission)
}
