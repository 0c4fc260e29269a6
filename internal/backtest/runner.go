// Package backtest drives a broker and a strategy over a feed.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/observer"
	"github.com/tathienbao/backtester/internal/risk"
	"github.com/tathienbao/backtester/internal/strategy"
	"github.com/tathienbao/backtester/internal/types"
	"golang.org/x/time/rate"
)

// FeedErrorPolicy decides what the runner does with a malformed tick.
type FeedErrorPolicy string

const (
	// FeedErrorAbort stops the run on the first malformed tick.
	FeedErrorAbort FeedErrorPolicy = "abort"
	// FeedErrorSkip counts malformed ticks and continues.
	FeedErrorSkip FeedErrorPolicy = "skip"
)

// DefaultProgressInterval is the minimum time between progress callbacks.
const DefaultProgressInterval = time.Second

// ProgressUpdate contains info for progress reporting.
type ProgressUpdate struct {
	Ticks   int
	Time    time.Time
	Equity  decimal.Decimal
	Fills   int
	Pending int
}

// ProgressCallback is called at most once per progress interval.
type ProgressCallback func(update ProgressUpdate)

// Recorder observes a run as it happens.
type Recorder interface {
	RecordTick(tick types.Tick, equity, peak, drawdown decimal.Decimal)
	RecordEvent(event types.Event)
	RecordSkipped()
}

// Recorders fans out to several recorders in order.
type Recorders []Recorder

// RecordTick implements Recorder.
func (rs Recorders) RecordTick(tick types.Tick, equity, peak, drawdown decimal.Decimal) {
	for _, r := range rs {
		r.RecordTick(tick, equity, peak, drawdown)
	}
}

// RecordEvent implements Recorder.
func (rs Recorders) RecordEvent(event types.Event) {
	for _, r := range rs {
		r.RecordEvent(event)
	}
}

// RecordSkipped implements Recorder.
func (rs Recorders) RecordSkipped() {
	for _, r := range rs {
		r.RecordSkipped()
	}
}

// Config holds backtest configuration.
type Config struct {
	StartTime        time.Time
	EndTime          time.Time
	OnFeedError      FeedErrorPolicy
	ProgressInterval time.Duration
}

// DefaultConfig returns a config that aborts on bad data.
func DefaultConfig() Config {
	return Config{
		OnFeedError:      FeedErrorAbort,
		ProgressInterval: DefaultProgressInterval,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch c.OnFeedError {
	case "", FeedErrorAbort, FeedErrorSkip:
	default:
		return fmt.Errorf("%w: unknown feed error policy %q", types.ErrInvalidConfig, c.OnFeedError)
	}
	if !c.StartTime.IsZero() && !c.EndTime.IsZero() && c.EndTime.Before(c.StartTime) {
		return fmt.Errorf("%w: end time before start time", types.ErrInvalidConfig)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("%w: progress interval must not be negative", types.ErrInvalidConfig)
	}
	return nil
}

// EquityPoint represents equity at a point in time.
type EquityPoint struct {
	Time     time.Time       `json:"time"`
	Cash     decimal.Decimal `json:"cash"`
	Equity   decimal.Decimal `json:"equity"`
	Drawdown decimal.Decimal `json:"drawdown"`
}

// Result holds the outcome of a run. A run that fails still returns the
// result accumulated up to the failure.
type Result struct {
	RunID        string                        `json:"run_id"`
	Strategy     string                        `json:"strategy"`
	Feed         string                        `json:"feed"`
	StartedAt    time.Time                     `json:"started_at"`
	Runtime      time.Duration                 `json:"runtime"`
	StartingCash decimal.Decimal               `json:"starting_cash"`
	EndingCash   decimal.Decimal               `json:"ending_cash"`
	EndingEquity decimal.Decimal               `json:"ending_equity"`
	TotalReturn  decimal.Decimal               `json:"total_return"` // As ratio (0.15 = 15%)
	MaxDrawdown  decimal.Decimal               `json:"max_drawdown"` // As ratio
	Ticks        int                           `json:"ticks"`
	SkippedTicks int                           `json:"skipped_ticks"`
	Fills        []types.Fill                  `json:"fills"`
	Canceled     map[types.OrderID]types.Order `json:"canceled"`
	Rejected     map[types.OrderID]types.Order `json:"rejected"`
	Pending      map[types.OrderID]types.Order `json:"pending"`
	Positions    []types.Position              `json:"positions"`
	EquityCurve  []EquityPoint                 `json:"equity_curve"`
	Error        string                        `json:"error,omitempty"`
}

// Runner executes one backtest. A runner is single use.
type Runner struct {
	cfg      Config
	feed     observer.Feed
	broker   *broker.Broker
	strategy strategy.Strategy
	logger   *slog.Logger

	progressCb ProgressCallback
	limiter    *rate.Limiter
	recorder   Recorder
}

// NewRunner creates a new backtest runner. A time window in cfg wraps the
// feed in an observer.Filter.
func NewRunner(cfg Config, feed observer.Feed, b *broker.Broker, strat strategy.Strategy, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if feed == nil || b == nil || strat == nil {
		return nil, fmt.Errorf("%w: runner needs a feed, a broker and a strategy", types.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OnFeedError == "" {
		cfg.OnFeedError = FeedErrorAbort
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if !cfg.StartTime.IsZero() || !cfg.EndTime.IsZero() {
		feed = observer.NewFilter(feed, cfg.StartTime, cfg.EndTime)
	}

	return &Runner{
		cfg:      cfg,
		feed:     feed,
		broker:   b,
		strategy: strat,
		logger:   logger.With("strategy", strat.Name(), "feed", feed.Name()),
		limiter:  rate.NewLimiter(rate.Every(cfg.ProgressInterval), 1),
	}, nil
}

// SetProgressCallback sets a callback for progress updates.
func (r *Runner) SetProgressCallback(cb ProgressCallback) {
	r.progressCb = cb
}

// SetRecorder sets a recorder that observes every tick and event.
func (r *Runner) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Run executes the backtest until the feed is exhausted, the context is
// canceled or an error occurs. The result is returned in every case.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	res := &Result{
		RunID:        uuid.NewString(),
		Strategy:     r.strategy.Name(),
		Feed:         r.feed.Name(),
		StartedAt:    started.UTC(),
		StartingCash: r.broker.InitialCash(),
	}
	hwm := risk.NewHighWaterMarkTracker(r.broker.MarkedEquity())

	r.logger.Info("backtest started", "run_id", res.RunID, "cash", res.StartingCash.String())

	err := r.loop(ctx, res, hwm)
	r.finish(res, hwm, started, err)

	if err != nil {
		r.logger.Error("backtest failed", "run_id", res.RunID, "ticks", res.Ticks, "error", err)
		return res, err
	}

	r.logger.Info("backtest finished",
		"run_id", res.RunID,
		"ticks", res.Ticks,
		"fills", len(res.Fills),
		"equity", res.EndingEquity.String(),
		"return", res.TotalReturn.StringFixed(4),
		"runtime", res.Runtime,
	)
	return res, nil
}

func (r *Runner) loop(ctx context.Context, res *Result, hwm *risk.HighWaterMarkTracker) error {
	if p, ok := r.strategy.(strategy.Preparer); ok {
		if err := p.Prepare(r.broker); err != nil {
			return fmt.Errorf("%w: prepare: %w", types.ErrStrategy, err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tick, err := r.feed.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if errors.Is(err, types.ErrInvalidData) && r.cfg.OnFeedError == FeedErrorSkip {
				res.SkippedTicks++
				if r.recorder != nil {
					r.recorder.RecordSkipped()
				}
				r.logger.Warn("skipping malformed tick", "error", err)
				continue
			}
			return fmt.Errorf("feed %s: %w", r.feed.Name(), err)
		}

		if err := r.step(ctx, tick); err != nil {
			return err
		}
		res.Ticks++

		equity := r.broker.MarkedEquity()
		hwm.Update(equity)
		res.EquityCurve = append(res.EquityCurve, EquityPoint{
			Time:     tick.Time,
			Cash:     r.broker.Cash(),
			Equity:   equity,
			Drawdown: hwm.Drawdown(),
		})
		if r.recorder != nil {
			r.recorder.RecordTick(tick, equity, hwm.Peak(), hwm.Drawdown())
		}

		if r.limiter.Allow() {
			r.progress(res, tick, equity)
		}
	}
}

// step runs the broker and strategy for one tick.
func (r *Runner) step(ctx context.Context, tick types.Tick) error {
	if err := r.broker.Next(tick); err != nil {
		return fmt.Errorf("%w: tick %s: %w", types.ErrBroker, tick.Time.Format(time.RFC3339), err)
	}

	handler, _ := r.strategy.(strategy.EventHandler)
	for _, event := range r.broker.DrainEvents() {
		if r.recorder != nil {
			r.recorder.RecordEvent(event)
		}
		if handler == nil {
			continue
		}
		if err := handler.OnEvent(event, r.broker); err != nil {
			return fmt.Errorf("%w: on %s event for order %d: %w", types.ErrStrategy, event.Kind, event.OrderID, err)
		}
	}

	if err := r.strategy.OnTick(ctx, tick, r.broker); err != nil {
		return fmt.Errorf("%w: tick %s: %w", types.ErrStrategy, tick.Time.Format(time.RFC3339), err)
	}
	return nil
}

func (r *Runner) progress(res *Result, tick types.Tick, equity decimal.Decimal) {
	update := ProgressUpdate{
		Ticks:   res.Ticks,
		Time:    tick.Time,
		Equity:  equity,
		Fills:   len(r.broker.Fills()),
		Pending: len(r.broker.PendingOrders()),
	}
	r.logger.Debug("backtest progress",
		"ticks", update.Ticks,
		"time", update.Time,
		"equity", update.Equity.String(),
		"fills", update.Fills,
	)
	if r.progressCb != nil {
		r.progressCb(update)
	}
}

// finish fills in the final broker state.
func (r *Runner) finish(res *Result, hwm *risk.HighWaterMarkTracker, started time.Time, err error) {
	res.Runtime = time.Since(started)
	res.EndingCash = r.broker.Cash()
	res.EndingEquity = r.broker.MarkedEquity()
	res.MaxDrawdown = hwm.MaxDrawdown()
	res.Fills = r.broker.Fills()
	res.Canceled = r.broker.CanceledOrders()
	res.Rejected = r.broker.RejectedOrders()
	res.Pending = r.broker.PendingOrders()
	res.Positions = r.broker.Positions()

	if res.StartingCash.IsPositive() {
		res.TotalReturn = res.EndingEquity.Sub(res.StartingCash).Div(res.StartingCash)
	}
	if err != nil {
		res.Error = err.Error()
	}
}
