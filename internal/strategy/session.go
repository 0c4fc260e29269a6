package strategy

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/types"
)

// SessionOpen buys at a session open and sells at that session's close.
//
// The entry is a MarketOnOpen order filled on the first tick of the next
// session. Once long, a MarketOnClose exit is filled at the first tick of
// the following session against the last close of the held session.
type SessionOpen struct {
	Symbol   string
	Quantity decimal.Decimal

	ids     IDSequence
	pending types.OrderID
}

// NewSessionOpen creates a session open/close strategy.
func NewSessionOpen(symbol string, qty decimal.Decimal) *SessionOpen {
	return &SessionOpen{Symbol: symbol, Quantity: qty}
}

func newSessionOpenFromParams(p Params) (Strategy, error) {
	symbol, qty, err := p.common()
	if err != nil {
		return nil, err
	}
	return NewSessionOpen(symbol, qty), nil
}

// Name returns the strategy name.
func (s *SessionOpen) Name() string {
	return "session_open"
}

// OnTick keeps exactly one session-gated order pending.
func (s *SessionOpen) OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error {
	if tick.Symbol != "" && tick.Symbol != s.Symbol {
		return nil
	}
	if _, waiting := b.PendingOrder(s.pending); waiting {
		return nil
	}

	s.pending = s.ids.Next()
	if pos, held := b.Position(s.Symbol); held && pos.IsLong() {
		return b.SubmitOrder(s.pending, types.NewOrder(s.Symbol, types.SideSell, pos.Quantity, types.MarketOnClose()))
	}
	return b.SubmitOrder(s.pending, types.NewOrder(s.Symbol, types.SideBuy, s.Quantity, types.MarketOnOpen()))
}
