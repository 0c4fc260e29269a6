package strategy

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/types"
	"github.com/tathienbao/backtester/pkg/indicator"
)

// BreakoutConfig holds configuration for the breakout strategy.
type BreakoutConfig struct {
	Symbol         string
	Quantity       decimal.Decimal
	LookbackBars   int             // Number of bars to look back for high/low
	ATRPeriod      int             // Period of the ATR used for the stop
	ATRMultiplier  decimal.Decimal // ATR multiplier for stop loss
	BreakoutBuffer decimal.Decimal // Buffer above/below range (as ratio, e.g., 0.001 = 0.1%)
}

// DefaultBreakoutConfig returns sensible defaults.
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{
		Quantity:       decimal.NewFromInt(1),
		LookbackBars:   20,
		ATRPeriod:      14,
		ATRMultiplier:  decimal.RequireFromString("2.0"),
		BreakoutBuffer: decimal.RequireFromString("0.0005"), // 0.05%
	}
}

// Breakout implements a simple range breakout strategy.
// Goes long when price closes above the highest high of N bars and short
// when it closes below the lowest low. Entries carry an ATR stop. A
// breakout against an open position closes it.
type Breakout struct {
	cfg BreakoutConfig
	atr *indicator.ATR
	ids IDSequence

	highs []decimal.Decimal
	lows  []decimal.Decimal

	entry types.OrderID
	stop  types.OrderID
}

// NewBreakout creates a new breakout strategy.
func NewBreakout(cfg BreakoutConfig) *Breakout {
	if cfg.LookbackBars < 2 {
		cfg.LookbackBars = 2
	}
	return &Breakout{
		cfg:   cfg,
		atr:   indicator.NewATR(cfg.ATRPeriod),
		highs: make([]decimal.Decimal, 0, cfg.LookbackBars),
		lows:  make([]decimal.Decimal, 0, cfg.LookbackBars),
	}
}

func newBreakoutFromParams(p Params) (Strategy, error) {
	cfg := DefaultBreakoutConfig()
	var err error
	if cfg.Symbol, cfg.Quantity, err = p.common(); err != nil {
		return nil, err
	}
	if cfg.LookbackBars, err = p.Int("lookback", cfg.LookbackBars); err != nil {
		return nil, err
	}
	if cfg.ATRPeriod, err = p.Int("atr_period", cfg.ATRPeriod); err != nil {
		return nil, err
	}
	if cfg.ATRMultiplier, err = p.Decimal("atr_multiplier", cfg.ATRMultiplier); err != nil {
		return nil, err
	}
	if cfg.BreakoutBuffer, err = p.Decimal("buffer", cfg.BreakoutBuffer); err != nil {
		return nil, err
	}
	return NewBreakout(cfg), nil
}

// Name returns the strategy name.
func (s *Breakout) Name() string {
	return "breakout"
}

// OnTick updates the range and trades breakouts.
func (s *Breakout) OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error {
	if tick.Symbol != "" && tick.Symbol != s.cfg.Symbol {
		return nil
	}
	if err := s.atr.Update(tick); err != nil {
		return err
	}

	s.highs = append(s.highs, tick.High)
	s.lows = append(s.lows, tick.Low)
	if len(s.highs) > s.cfg.LookbackBars {
		s.highs = s.highs[1:]
		s.lows = s.lows[1:]
	}
	if len(s.highs) < s.cfg.LookbackBars {
		return nil
	}

	// Range excludes the current bar
	rangeHigh := highest(s.highs[:len(s.highs)-1])
	rangeLow := lowest(s.lows[:len(s.lows)-1])
	buffer := rangeHigh.Sub(rangeLow).Mul(s.cfg.BreakoutBuffer)

	var side types.Side
	switch {
	case tick.Close.GreaterThan(rangeHigh.Add(buffer)):
		side = types.SideBuy
	case tick.Close.LessThan(rangeLow.Sub(buffer)):
		side = types.SideSell
	default:
		return nil
	}

	if _, waiting := b.PendingOrder(s.entry); waiting {
		return nil
	}

	pos, held := b.Position(s.cfg.Symbol)
	if held {
		if (pos.IsLong() && side == types.SideBuy) || (pos.IsShort() && side == types.SideSell) {
			return nil
		}
		return s.exit(b, pos)
	}
	return s.enter(b, side, tick.Close)
}

func (s *Breakout) enter(b *broker.Broker, side types.Side, price decimal.Decimal) error {
	atr, err := s.atr.Value()
	if errors.Is(err, indicator.ErrInsufficientData) {
		return nil
	}
	if err != nil {
		return err
	}

	distance := atr.Mul(s.cfg.ATRMultiplier)
	stopPrice := price.Sub(distance)
	if side == types.SideSell {
		stopPrice = price.Add(distance)
	}
	if !stopPrice.IsPositive() {
		return nil
	}

	s.entry, s.stop = s.ids.Next(), s.ids.Next()
	stop := types.NewOrder(s.cfg.Symbol, side.Opposite(), s.cfg.Quantity, types.Stop(stopPrice))
	entry := types.NewOrder(s.cfg.Symbol, side, s.cfg.Quantity, types.Market()).
		ThenOnFill(types.SubmitAction(s.stop, stop))
	return b.SubmitOrder(s.entry, entry)
}

func (s *Breakout) exit(b *broker.Broker, pos types.Position) error {
	if _, ok := b.PendingOrder(s.stop); ok {
		if err := b.CancelOrder(s.stop); err != nil {
			return err
		}
	}
	side := types.SideSell
	if pos.IsShort() {
		side = types.SideBuy
	}
	s.entry = s.ids.Next()
	return b.SubmitOrder(s.entry, types.NewOrder(s.cfg.Symbol, side, pos.Quantity.Abs(), types.Market()))
}

// highest returns the highest value in the slice.
func highest(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Max(values[0], values[1:]...)
}

// lowest returns the lowest value in the slice.
func lowest(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Min(values[0], values[1:]...)
}
