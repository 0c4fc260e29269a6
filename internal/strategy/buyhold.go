package strategy

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/types"
)

// BuyAndHold buys Quantity of Symbol once and never sells.
// The order is submitted before the first tick so it fills on that tick.
type BuyAndHold struct {
	Symbol   string
	Quantity decimal.Decimal

	submitted bool
}

// NewBuyAndHold creates a buy-and-hold strategy.
func NewBuyAndHold(symbol string, qty decimal.Decimal) *BuyAndHold {
	return &BuyAndHold{Symbol: symbol, Quantity: qty}
}

func newBuyAndHoldFromParams(p Params) (Strategy, error) {
	symbol, qty, err := p.common()
	if err != nil {
		return nil, err
	}
	return NewBuyAndHold(symbol, qty), nil
}

// Name returns the strategy name.
func (s *BuyAndHold) Name() string {
	return "buyhold"
}

// Prepare submits the entry order.
func (s *BuyAndHold) Prepare(b *broker.Broker) error {
	if s.submitted {
		return nil
	}
	s.submitted = true
	return b.SubmitOrder(1, types.NewOrder(s.Symbol, types.SideBuy, s.Quantity, types.Market()))
}

// OnTick does nothing once the entry is in.
func (s *BuyAndHold) OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error {
	if s.submitted {
		return nil
	}
	return s.Prepare(b)
}
