// Package persistence stores backtest results.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/backtest"
	"github.com/tathienbao/backtester/internal/types"
)

// Repository defines the interface for result storage.
type Repository interface {
	// Run operations
	SaveRun(ctx context.Context, result *backtest.Result, summary backtest.Summary) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	DeleteRun(ctx context.Context, runID string) error

	// Detail operations
	GetFills(ctx context.Context, runID string) ([]types.Fill, error)
	GetOrders(ctx context.Context, runID string) ([]OrderRecord, error)
	GetEquityCurve(ctx context.Context, runID string) ([]backtest.EquityPoint, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// RunRecord represents a persisted backtest run.
type RunRecord struct {
	RunID        string
	Strategy     string
	Feed         string
	StartedAt    time.Time
	Runtime      time.Duration
	StartingCash decimal.Decimal
	EndingCash   decimal.Decimal
	EndingEquity decimal.Decimal
	TotalReturn  decimal.Decimal
	MaxDrawdown  decimal.Decimal
	Ticks        int
	SkippedTicks int
	FillCount    int
	Summary      backtest.Summary
	Error        string
}

// OrderStatus is the final state of an order left on the book at the end of a run.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderCanceled OrderStatus = "canceled"
	OrderRejected OrderStatus = "rejected"
)

// OrderRecord represents a persisted order.
type OrderRecord struct {
	RunID   string
	OrderID types.OrderID
	Status  OrderStatus
	Order   types.Order
}
