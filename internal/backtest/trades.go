package backtest

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/ledger"
	"github.com/tathienbao/backtester/internal/types"
)

// Trade is a closed (or partly closed) round trip derived from the fill log.
type Trade struct {
	Symbol     string          `json:"symbol"`
	Side       types.Side      `json:"side"` // Side of the entry
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"` // Average entry price
	ExitPrice  decimal.Decimal `json:"exit_price"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	Commission decimal.Decimal `json:"commission"`
	NetPL      decimal.Decimal `json:"net_pl"`
}

// openTrade tracks entry state per symbol while replaying fills.
type openTrade struct {
	entryTime  time.Time
	commission decimal.Decimal
}

// RoundTrips replays fills through a ledger and returns one trade for every
// fill that reduces a position. Entry commission is charged pro rata to
// the quantity closed.
func RoundTrips(fills []types.Fill) []Trade {
	book := ledger.New()
	open := make(map[string]*openTrade)
	var trades []Trade

	for _, f := range fills {
		before, held := book.Position(f.Symbol)
		ot := open[f.Symbol]

		closing := held && ((before.IsLong() && f.Side == types.SideSell) || (before.IsShort() && f.Side == types.SideBuy))
		if !closing {
			if ot == nil {
				ot = &openTrade{entryTime: f.Time}
				open[f.Symbol] = ot
			}
			ot.commission = ot.commission.Add(f.Commission)
			book.Apply(f.Symbol, f.Side, f.Quantity, f.Price)
			continue
		}

		if ot == nil {
			ot = &openTrade{entryTime: f.Time}
		}
		size := before.Quantity.Abs()
		closed := decimal.Min(f.Quantity, size)
		entryFee := ot.commission.Mul(closed).Div(size)
		exitFee := f.Commission
		if f.Quantity.IsPositive() {
			exitFee = f.Commission.Mul(closed).Div(f.Quantity)
		}

		entrySide := types.SideBuy
		if before.IsShort() {
			entrySide = types.SideSell
		}
		gross := f.Price.Sub(before.AvgPrice).Mul(closed).Mul(entrySide.Sign())

		trades = append(trades, Trade{
			Symbol:     f.Symbol,
			Side:       entrySide,
			Quantity:   closed,
			EntryPrice: before.AvgPrice,
			ExitPrice:  f.Price,
			EntryTime:  ot.entryTime,
			ExitTime:   f.Time,
			Commission: entryFee.Add(exitFee),
			NetPL:      gross.Sub(entryFee).Sub(exitFee),
		})
		ot.commission = ot.commission.Sub(entryFee)

		after, stillHeld := book.Apply(f.Symbol, f.Side, f.Quantity, f.Price)
		switch {
		case !stillHeld:
			delete(open, f.Symbol)
		case after.Quantity.Sign() != before.Quantity.Sign():
			// Flipped: the remainder opens a new trade.
			open[f.Symbol] = &openTrade{entryTime: f.Time, commission: f.Commission.Sub(exitFee)}
		}
	}

	return trades
}
