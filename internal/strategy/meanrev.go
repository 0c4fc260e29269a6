package strategy

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/types"
	"github.com/tathienbao/backtester/pkg/indicator"
)

// MeanRevConfig holds configuration for the mean reversion strategy.
type MeanRevConfig struct {
	Symbol      string
	Quantity    decimal.Decimal
	Period      int             // Period for SMA and StdDev
	EntryStdDev decimal.Decimal // Number of StdDevs from mean to enter (e.g., 2.0)
	MinStdDev   decimal.Decimal // Minimum StdDev to trade
}

// DefaultMeanRevConfig returns sensible defaults.
func DefaultMeanRevConfig() MeanRevConfig {
	return MeanRevConfig{
		Quantity:    decimal.NewFromInt(1),
		Period:      20,
		EntryStdDev: decimal.RequireFromString("2.0"),
		MinStdDev:   decimal.Zero,
	}
}

// MeanReversion buys below the lower band and sells short above the upper
// band. Each entry's fill places a limit exit at the mean it was measured
// against.
type MeanReversion struct {
	cfg    MeanRevConfig
	stddev *indicator.StdDev
	ids    IDSequence

	entry types.OrderID
	exit  types.OrderID
}

// NewMeanReversion creates a new mean reversion strategy.
func NewMeanReversion(cfg MeanRevConfig) *MeanReversion {
	return &MeanReversion{
		cfg:    cfg,
		stddev: indicator.NewStdDev(cfg.Period),
	}
}

func newMeanReversionFromParams(p Params) (Strategy, error) {
	cfg := DefaultMeanRevConfig()
	var err error
	if cfg.Symbol, cfg.Quantity, err = p.common(); err != nil {
		return nil, err
	}
	if cfg.Period, err = p.Int("period", cfg.Period); err != nil {
		return nil, err
	}
	if cfg.EntryStdDev, err = p.Decimal("entry_stddev", cfg.EntryStdDev); err != nil {
		return nil, err
	}
	if cfg.MinStdDev, err = p.Decimal("min_stddev", cfg.MinStdDev); err != nil {
		return nil, err
	}
	return NewMeanReversion(cfg), nil
}

// Name returns the strategy name.
func (m *MeanReversion) Name() string {
	return "meanrev"
}

// Bands returns the current upper and lower bands.
func (m *MeanReversion) Bands() (upper, lower decimal.Decimal) {
	sd, err := m.stddev.Value()
	if err != nil {
		return decimal.Zero, decimal.Zero
	}
	mean := m.stddev.Mean()
	deviation := sd.Mul(m.cfg.EntryStdDev)
	return mean.Add(deviation), mean.Sub(deviation)
}

// OnTick compares the close with the bands of the previous bars, then
// updates them.
func (m *MeanReversion) OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error {
	if tick.Symbol != "" && tick.Symbol != m.cfg.Symbol {
		return nil
	}

	// Get current mean and stddev BEFORE updating
	wasReady := m.stddev.Ready()
	mean := m.stddev.Mean()
	sd, _ := m.stddev.Value()
	upper, lower := m.Bands()

	if err := m.stddev.Update(tick); err != nil {
		return err
	}
	if !wasReady || sd.LessThan(m.cfg.MinStdDev) || sd.IsZero() {
		return nil
	}

	if _, held := b.Position(m.cfg.Symbol); held {
		return nil
	}
	if _, waiting := b.PendingOrder(m.entry); waiting {
		return nil
	}
	if _, waiting := b.PendingOrder(m.exit); waiting {
		return nil
	}

	var side types.Side
	switch {
	case tick.Close.LessThan(lower):
		side = types.SideBuy
	case tick.Close.GreaterThan(upper):
		side = types.SideSell
	default:
		return nil
	}

	m.entry, m.exit = m.ids.Next(), m.ids.Next()
	exit := types.NewOrder(m.cfg.Symbol, side.Opposite(), m.cfg.Quantity, types.Limit(mean))
	entry := types.NewOrder(m.cfg.Symbol, side, m.cfg.Quantity, types.Market()).
		ThenOnFill(types.SubmitAction(m.exit, exit))
	return b.SubmitOrder(m.entry, entry)
}
