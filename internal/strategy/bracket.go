package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/risk"
	"github.com/tathienbao/backtester/internal/types"
)

// BracketConfig holds configuration for the bracket strategy.
type BracketConfig struct {
	Symbol        string
	Quantity      decimal.Decimal // Fixed size; zero sizes by RiskPct
	StopLossPct   decimal.Decimal // Stop distance below entry (e.g., 0.02 = 2%)
	TakeProfitPct decimal.Decimal // Target distance above entry
	RiskPct       decimal.Decimal // Equity fraction lost at the stop when sizing
	LotSize       decimal.Decimal
}

// DefaultBracketConfig returns sensible defaults.
func DefaultBracketConfig() BracketConfig {
	return BracketConfig{
		StopLossPct:   decimal.RequireFromString("0.02"),
		TakeProfitPct: decimal.RequireFromString("0.04"),
		RiskPct:       decimal.RequireFromString("0.01"),
		LotSize:       decimal.NewFromInt(1),
	}
}

// Bracket enters long with a market order whose fill attaches a stop-loss
// and a take-profit. Whichever exit fills cancels the other. It re-enters
// once flat.
type Bracket struct {
	cfg    BracketConfig
	sizer  *risk.PositionSizer
	ids    IDSequence
	active bool

	entry, stop, take types.OrderID
	trades            int
}

// NewBracket creates a bracket strategy.
func NewBracket(cfg BracketConfig) (*Bracket, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", types.ErrInvalidConfig)
	}
	if !cfg.StopLossPct.IsPositive() || cfg.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: stop loss pct must be in (0, 1)", types.ErrInvalidConfig)
	}
	if !cfg.TakeProfitPct.IsPositive() {
		return nil, fmt.Errorf("%w: take profit pct must be positive", types.ErrInvalidConfig)
	}
	return &Bracket{
		cfg:   cfg,
		sizer: risk.NewPositionSizer(cfg.LotSize),
	}, nil
}

func newBracketFromParams(p Params) (Strategy, error) {
	cfg := DefaultBracketConfig()
	var err error
	if cfg.Symbol, err = p.String("symbol", ""); err != nil {
		return nil, err
	}
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"quantity", &cfg.Quantity},
		{"stop_loss_pct", &cfg.StopLossPct},
		{"take_profit_pct", &cfg.TakeProfitPct},
		{"risk_pct", &cfg.RiskPct},
		{"lot_size", &cfg.LotSize},
	}
	for _, f := range fields {
		if *f.dst, err = p.Decimal(f.key, *f.dst); err != nil {
			return nil, err
		}
	}
	return NewBracket(cfg)
}

// Name returns the strategy name.
func (s *Bracket) Name() string {
	return "bracket"
}

// Trades returns the number of completed entries and exits.
func (s *Bracket) Trades() int {
	return s.trades
}

// OnEvent tracks when the current bracket is done.
func (s *Bracket) OnEvent(event types.Event, b *broker.Broker) error {
	if !s.active {
		return nil
	}
	switch event.Kind {
	case types.EventFilled:
		if event.OrderID == s.stop || event.OrderID == s.take {
			s.active = false
			s.trades++
		}
	case types.EventRejected, types.EventCanceled, types.EventExpired:
		if event.OrderID == s.entry {
			s.active = false
		}
	}
	return nil
}

// OnTick submits a new bracket when flat.
func (s *Bracket) OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error {
	if s.active || (tick.Symbol != "" && tick.Symbol != s.cfg.Symbol) {
		return nil
	}
	if _, held := b.Position(s.cfg.Symbol); held {
		return nil
	}

	one := decimal.NewFromInt(1)
	stopPrice := tick.Close.Mul(one.Sub(s.cfg.StopLossPct))
	takePrice := tick.Close.Mul(one.Add(s.cfg.TakeProfitPct))

	qty := s.size(tick.Close, tick.Close.Sub(stopPrice), b)
	if !qty.IsPositive() {
		return nil
	}

	s.entry, s.stop, s.take = s.ids.Next(), s.ids.Next(), s.ids.Next()

	stop := types.NewOrder(s.cfg.Symbol, types.SideSell, qty, types.Stop(stopPrice)).
		ThenOnFill(types.CancelAction(s.take))
	take := types.NewOrder(s.cfg.Symbol, types.SideSell, qty, types.Limit(takePrice)).
		ThenOnFill(types.CancelAction(s.stop))
	entry := types.NewOrder(s.cfg.Symbol, types.SideBuy, qty, types.Market()).
		ThenOnFill(types.SubmitAction(s.stop, stop), types.SubmitAction(s.take, take))

	if err := b.SubmitOrder(s.entry, entry); err != nil {
		return err
	}
	s.active = true
	return nil
}

// size returns the fixed quantity, or a risk-based size capped by cash.
func (s *Bracket) size(price, stopDistance decimal.Decimal, b *broker.Broker) decimal.Decimal {
	if s.cfg.Quantity.IsPositive() {
		return s.cfg.Quantity
	}
	equity := b.MarkedEquity()
	qty := s.sizer.Calculate(equity, s.cfg.RiskPct, stopDistance)
	return s.sizer.Clamp(qty, s.sizer.MaxQuantity(b.Cash(), price, b.Leverage()))
}
