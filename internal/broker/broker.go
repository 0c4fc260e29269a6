// Package broker simulates a brokerage account for backtesting.
//
// A Broker owns cash, positions and the pending order book. Each call to
// Next evaluates every pending order against one tick, fills or converts
// the ones that trigger and interprets their contingent actions.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/clock"
	"github.com/tathienbao/backtester/internal/execution"
	"github.com/tathienbao/backtester/internal/risk"
	"github.com/tathienbao/backtester/internal/scheduler"
	"github.com/tathienbao/backtester/internal/types"
)

// maxActionDepth bounds nested contingent actions.
const maxActionDepth = 32

// Config holds broker construction parameters.
type Config struct {
	Name        string
	InitialCash decimal.Decimal
	// Commission is charged per fill as a fraction of notional.
	Commission decimal.Decimal
	// Margin is the fraction of notional held as collateral. Leverage is 1/Margin.
	Margin decimal.Decimal
	// ExclusiveOrders cancels all other pending orders on every submit.
	ExclusiveOrders bool
	// EnforceFunds rejects fills that cash cannot cover at Margin.
	EnforceFunds bool
	// SessionGap is the tick gap that starts a new session.
	SessionGap time.Duration
}

// DefaultConfig returns a fully funded, commission-free broker.
func DefaultConfig() Config {
	return Config{
		Name:        "default",
		InitialCash: decimal.NewFromInt(100000),
		Commission:  decimal.Zero,
		Margin:      decimal.NewFromInt(1),
		SessionGap:  clock.DefaultSessionGap,
	}
}

var (
	maxCommission = decimal.RequireFromString("0.1")
	minCommission = decimal.RequireFromString("-0.1")
)

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []string

	if c.InitialCash.IsNegative() {
		errs = append(errs, "initial cash must not be negative")
	}
	if c.Commission.LessThan(minCommission) || c.Commission.GreaterThan(maxCommission) {
		errs = append(errs, "commission must be between -0.1 and 0.1")
	}
	if c.Margin.IsNegative() || c.Margin.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "margin must be between 0 and 1")
	}
	if c.SessionGap < 0 {
		errs = append(errs, "session gap must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Broker is a simulated brokerage account. Not safe for concurrent use.
type Broker struct {
	cfg     Config
	logger  *slog.Logger
	account *execution.Account
	engine  *execution.Engine
	checker *risk.MarginChecker
	clock   *clock.Clock

	pending  map[types.OrderID]types.Order
	canceled map[types.OrderID]types.Order
	rejected map[types.OrderID]types.Order
	fills    []types.Fill
	events   []types.Event
	marks    map[string]decimal.Decimal

	// fresh holds ids submitted during the current Next pass.
	fresh map[types.OrderID]bool
	depth int
}

// New creates a broker. The config is validated first.
func New(cfg Config, logger *slog.Logger) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("broker", cfg.Name)

	checker := risk.NewMarginChecker(cfg.Margin, cfg.EnforceFunds)
	return &Broker{
		cfg:      cfg,
		logger:   logger,
		account:  execution.NewAccount(cfg.InitialCash),
		engine:   execution.NewEngine(cfg.Commission, checker, logger),
		checker:  checker,
		clock:    clock.New(cfg.SessionGap),
		pending:  make(map[types.OrderID]types.Order),
		canceled: make(map[types.OrderID]types.Order),
		rejected: make(map[types.OrderID]types.Order),
		marks:    make(map[string]decimal.Decimal),
	}, nil
}

// Name returns the configured broker name.
func (b *Broker) Name() string {
	return b.cfg.Name
}

// Config returns the broker configuration.
func (b *Broker) Config() Config {
	return b.cfg
}

// Next advances the simulation by one tick.
//
// Every order pending before the call is evaluated once, in id order.
// Orders submitted while the pass runs wait for the next tick. The first
// error from a contingent action aborts the pass and is returned.
func (b *Broker) Next(tick types.Tick) error {
	if prev, ok := b.clock.Previous(); ok && tick.Time.Before(prev.Time) {
		return fmt.Errorf("%w: tick at %s precedes %s", types.ErrInvalidData,
			tick.Time.Format(time.RFC3339), prev.Time.Format(time.RFC3339))
	}

	newSession := b.clock.IsNewSession(tick)
	var previous *types.Tick
	if prev, ok := b.clock.PreviousOf(tick.Symbol); ok {
		previous = &prev
	}

	b.clock.Set(tick.Time)
	b.mark(tick)
	defer b.clock.Advance(tick)

	if newSession && previous != nil {
		b.logger.Debug("new session", "time", tick.Time, "gap", tick.Time.Sub(previous.Time))
	}

	b.fresh = make(map[types.OrderID]bool)
	defer func() { b.fresh = nil }()

	for _, id := range scheduler.Sorted(b.pending) {
		order, ok := b.pending[id]
		if !ok || b.fresh[id] {
			continue
		}
		if tick.Symbol != "" && order.Symbol != tick.Symbol {
			continue
		}

		decision := scheduler.Evaluate(order, tick, previous, newSession)
		if err := b.apply(id, order, decision); err != nil {
			return err
		}
	}

	return nil
}

// mark records tick.Close as the last price of its symbol. An untagged tick
// prices every held and pending symbol, since a single-instrument feed
// carries no symbol column.
func (b *Broker) mark(tick types.Tick) {
	if tick.Symbol != "" {
		b.marks[tick.Symbol] = tick.Close
		return
	}
	for _, p := range b.account.Ledger.Positions() {
		b.marks[p.Symbol] = tick.Close
	}
	for _, o := range b.pending {
		b.marks[o.Symbol] = tick.Close
	}
}

func (b *Broker) apply(id types.OrderID, order types.Order, d scheduler.Decision) error {
	switch d.Outcome {
	case scheduler.Fill:
		return b.fill(id, order, d.Reference)

	case scheduler.Replace:
		b.pending[id] = d.Order
		b.emit(types.Event{Kind: types.EventConverted, OrderID: id, Order: d.Order})
		b.logger.Debug("order converted",
			"order_id", id,
			"from", order.Type.String(),
			"to", d.Order.Type.String(),
		)
		return nil

	case scheduler.Expire:
		delete(b.pending, id)
		b.canceled[id] = order
		b.emit(types.Event{Kind: types.EventExpired, OrderID: id, Order: order})
		b.logger.Debug("order expired", "order_id", id, "tif", order.TimeInForce.String())
		return b.interpret(order.OnCancel)

	default:
		return nil
	}
}

func (b *Broker) fill(id types.OrderID, order types.Order, ref types.Tick) error {
	fill, err := b.engine.Execute(b.account, id, order, ref, b.clock.Now())
	if errors.Is(err, types.ErrInsufficientFunds) || errors.Is(err, types.ErrInsufficientMargin) {
		delete(b.pending, id)
		b.rejected[id] = order
		b.emit(types.Event{Kind: types.EventRejected, OrderID: id, Order: order, Reason: err.Error()})
		b.logger.Warn("order rejected", "order_id", id, "symbol", order.Symbol, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("execute order %d: %w", id, err)
	}

	delete(b.pending, id)
	b.fills = append(b.fills, fill)
	b.emit(types.Event{Kind: types.EventFilled, OrderID: id, Order: order, Fill: &fill})

	b.logger.Info("order filled",
		"order_id", id,
		"symbol", fill.Symbol,
		"side", fill.Side.String(),
		"kind", fill.Kind.String(),
		"qty", fill.Quantity.String(),
		"price", fill.Price.String(),
		"cash", b.account.Cash.String(),
	)

	return b.interpret(order.OnFill)
}

// SubmitOrder adds order to the pending set under id. An order already
// pending under id is replaced. With ExclusiveOrders every other pending
// order is canceled first.
func (b *Broker) SubmitOrder(id types.OrderID, order types.Order) error {
	if err := order.Validate(); err != nil {
		return fmt.Errorf("submit order %d: %w", id, err)
	}
	if order.SubmittedAt.IsZero() {
		order.SubmittedAt = b.clock.Now()
	}

	if b.cfg.ExclusiveOrders {
		for _, other := range scheduler.Sorted(b.pending) {
			if other == id {
				continue
			}
			if _, ok := b.pending[other]; !ok {
				continue
			}
			if err := b.CancelOrder(other); err != nil {
				return fmt.Errorf("submit order %d: %w", id, err)
			}
		}
	}

	if _, exists := b.pending[id]; exists {
		b.logger.Warn("order id already pending, replacing", "order_id", id)
	}

	b.pending[id] = order
	if b.fresh != nil {
		b.fresh[id] = true
	}

	b.logger.Debug("order submitted",
		"order_id", id,
		"symbol", order.Symbol,
		"side", order.Side.String(),
		"type", order.Type.String(),
		"qty", order.Quantity.String(),
	)
	return nil
}

// CancelOrder moves a pending order to the canceled set and interprets its
// OnCancel actions. Unknown ids return types.ErrOrderNotFound and change nothing.
func (b *Broker) CancelOrder(id types.OrderID) error {
	order, ok := b.pending[id]
	if !ok {
		return fmt.Errorf("cancel order %d: %w", id, types.ErrOrderNotFound)
	}

	delete(b.pending, id)
	b.canceled[id] = order
	b.emit(types.Event{Kind: types.EventCanceled, OrderID: id, Order: order})
	b.logger.Debug("order canceled", "order_id", id, "symbol", order.Symbol)

	return b.interpret(order.OnCancel)
}

// interpret runs contingent actions in order, stopping at the first error.
func (b *Broker) interpret(actions []types.Action) error {
	if len(actions) == 0 {
		return nil
	}
	if b.depth >= maxActionDepth {
		return fmt.Errorf("%w: contingent actions nested deeper than %d", types.ErrBroker, maxActionDepth)
	}

	b.depth++
	defer func() { b.depth-- }()

	for _, a := range actions {
		var err error
		switch a.Kind {
		case types.ActionSubmit:
			if a.Order == nil {
				err = fmt.Errorf("%w: submit action for order %d has no order", types.ErrInvalidOrder, a.ID)
			} else {
				err = b.SubmitOrder(a.ID, *a.Order)
			}
		case types.ActionCancel:
			err = b.CancelOrder(a.ID)
		default:
			err = fmt.Errorf("%w: unknown action kind %d", types.ErrInvalidOrder, a.Kind)
		}
		if err != nil {
			return fmt.Errorf("contingent %s: %w", a.Kind, err)
		}
	}
	return nil
}

func (b *Broker) emit(e types.Event) {
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}
	b.events = append(b.events, e)
}

// DrainEvents returns and clears the events recorded since the last drain.
func (b *Broker) DrainEvents() []types.Event {
	events := b.events
	b.events = nil
	return events
}

// Datetime returns the simulated clock.
func (b *Broker) Datetime() time.Time {
	return b.clock.Now()
}

// Session returns the number of sessions seen so far.
func (b *Broker) Session() int {
	return b.clock.Session()
}

// Cash returns current cash.
func (b *Broker) Cash() decimal.Decimal {
	return b.account.Cash
}

// InitialCash returns the starting cash.
func (b *Broker) InitialCash() decimal.Decimal {
	return b.cfg.InitialCash
}

// Leverage returns 1/margin, zero meaning unlimited.
func (b *Broker) Leverage() decimal.Decimal {
	return b.checker.Leverage()
}

// Position returns the open position in symbol.
func (b *Broker) Position(symbol string) (types.Position, bool) {
	return b.account.Ledger.Position(symbol)
}

// Positions returns all open positions sorted by symbol.
func (b *Broker) Positions() []types.Position {
	return b.account.Ledger.Positions()
}

// PendingOrder returns the pending order with id.
func (b *Broker) PendingOrder(id types.OrderID) (types.Order, bool) {
	o, ok := b.pending[id]
	return o, ok
}

// PendingOrders returns a copy of the pending set.
func (b *Broker) PendingOrders() map[types.OrderID]types.Order {
	return maps.Clone(b.pending)
}

// CanceledOrders returns a copy of canceled and expired orders.
func (b *Broker) CanceledOrders() map[types.OrderID]types.Order {
	return maps.Clone(b.canceled)
}

// RejectedOrders returns a copy of orders rejected by funds checks.
func (b *Broker) RejectedOrders() map[types.OrderID]types.Order {
	return maps.Clone(b.rejected)
}

// Fills returns a copy of the fill log in execution order.
func (b *Broker) Fills() []types.Fill {
	out := make([]types.Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// LastPrice returns the last close seen for symbol.
func (b *Broker) LastPrice(symbol string) (decimal.Decimal, bool) {
	p, ok := b.marks[symbol]
	return p, ok
}

// Equity returns cash plus positions valued at marks. Symbols missing from
// marks are valued at their average price.
func (b *Broker) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	return b.account.Equity(marks)
}

// MarkedEquity returns equity with positions valued at the last close seen.
func (b *Broker) MarkedEquity() decimal.Decimal {
	return b.account.Equity(b.marks)
}
