package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/observer"
	"github.com/tathienbao/backtester/internal/types"
	"github.com/tathienbao/backtester/pkg/indicator"
)

// SMACrossover goes long when the fast SMA crosses above the slow SMA and
// exits when it crosses back below.
type SMACrossover struct {
	Symbol   string
	Fast     int
	Slow     int
	Quantity decimal.Decimal

	calc    *observer.Calculator
	ids     IDSequence
	pending types.OrderID
}

// NewSMACrossover creates a crossover strategy.
func NewSMACrossover(symbol string, fast, slow int, qty decimal.Decimal) (*SMACrossover, error) {
	if fast < 1 || slow <= fast {
		return nil, fmt.Errorf("%w: need 0 < fast < slow, got %d/%d", types.ErrInvalidConfig, fast, slow)
	}
	return &SMACrossover{
		Symbol:   symbol,
		Fast:     fast,
		Slow:     slow,
		Quantity: qty,
		calc: observer.NewCalculator().
			Register("fast", indicator.NewSMA(fast)).
			Register("slow", indicator.NewSMA(slow)),
	}, nil
}

func newSMACrossoverFromParams(p Params) (Strategy, error) {
	symbol, qty, err := p.common()
	if err != nil {
		return nil, err
	}
	fast, err := p.Int("fast", 10)
	if err != nil {
		return nil, err
	}
	slow, err := p.Int("slow", 30)
	if err != nil {
		return nil, err
	}
	return NewSMACrossover(symbol, fast, slow, qty)
}

// Name returns the strategy name.
func (s *SMACrossover) Name() string {
	return "sma_crossover"
}

// OnTick updates the averages and trades on a cross.
func (s *SMACrossover) OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error {
	if tick.Symbol != "" && tick.Symbol != s.Symbol {
		return nil
	}
	if err := s.calc.OnTick(tick); err != nil {
		return err
	}

	cross, err := s.cross()
	if errors.Is(err, indicator.ErrInsufficientData) || errors.Is(err, indicator.ErrIndexOutOfRange) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, waiting := b.PendingOrder(s.pending); waiting {
		return nil
	}

	pos, held := b.Position(s.Symbol)
	switch {
	case cross > 0 && !held:
		return s.submit(b, types.SideBuy, s.Quantity)
	case cross < 0 && held && pos.IsLong():
		return s.submit(b, types.SideSell, pos.Quantity)
	}
	return nil
}

// cross returns +1 when fast crossed above slow on this tick, -1 when it
// crossed below and 0 otherwise.
func (s *SMACrossover) cross() (int, error) {
	var v [4]decimal.Decimal
	refs := []struct {
		name string
		ago  int
	}{{"fast", 0}, {"slow", 0}, {"fast", 1}, {"slow", 1}}
	for i, r := range refs {
		val, err := s.calc.At(r.name, r.ago)
		if err != nil {
			return 0, err
		}
		v[i] = val
	}

	fast, slow, prevFast, prevSlow := v[0], v[1], v[2], v[3]
	switch {
	case prevFast.LessThanOrEqual(prevSlow) && fast.GreaterThan(slow):
		return 1, nil
	case prevFast.GreaterThanOrEqual(prevSlow) && fast.LessThan(slow):
		return -1, nil
	default:
		return 0, nil
	}
}

func (s *SMACrossover) submit(b *broker.Broker, side types.Side, qty decimal.Decimal) error {
	s.pending = s.ids.Next()
	return b.SubmitOrder(s.pending, types.NewOrder(s.Symbol, side, qty, types.Market()))
}
