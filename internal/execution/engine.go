package execution

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/risk"
	"github.com/tathienbao/backtester/internal/types"
)

// Engine fills orders at the close of a reference tick.
type Engine struct {
	commission decimal.Decimal
	checker    *risk.MarginChecker
	logger     *slog.Logger
}

// NewEngine creates an engine charging commission as a fraction of notional.
// checker may be nil, which disables funds checks.
func NewEngine(commission decimal.Decimal, checker *risk.MarginChecker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = risk.NewMarginChecker(decimal.Zero, false)
	}
	return &Engine{
		commission: commission,
		checker:    checker,
		logger:     logger,
	}
}

// Commission returns the fee for trading qty at price.
func (e *Engine) Commission(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Mul(e.commission)
}

// Execute fills order against ref and books it into acct. at is the
// simulated time of the fill.
//
// Buys debit qty*price+commission and sells credit qty*price-commission.
// When the funds check fails nothing is mutated and the error wraps
// types.ErrInsufficientFunds or types.ErrInsufficientMargin.
func (e *Engine) Execute(acct *Account, id types.OrderID, order types.Order, ref types.Tick, at time.Time) (types.Fill, error) {
	price := ref.Close
	qty := order.Quantity
	commission := e.Commission(qty, price)

	increase := acct.Ledger.Increase(order.Symbol, order.Side, qty)
	if err := e.checker.Check(acct.Cash, increase, price, commission); err != nil {
		return types.Fill{}, fmt.Errorf("order %d: %w", id, err)
	}

	fill := types.Fill{
		ID:         uuid.New().String(),
		OrderID:    id,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Kind:       order.Type.Kind,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Time:       at,
	}

	pos, open := acct.Ledger.Apply(order.Symbol, order.Side, qty, price)
	acct.Cash = acct.Cash.Add(fill.CashDelta())

	e.logger.Debug("fill applied",
		"order_id", id,
		"symbol", order.Symbol,
		"side", order.Side.String(),
		"qty", qty.String(),
		"price", price.String(),
		"position", pos.Quantity.String(),
		"open", open,
		"cash", acct.Cash.String(),
	)

	return fill, nil
}
