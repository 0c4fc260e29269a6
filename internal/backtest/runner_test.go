package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/observer"
	"github.com/tathienbao/backtester/internal/strategy"
	"github.com/tathienbao/backtester/internal/types"
)

func hourlyTicks(closes ...int64) []types.Tick {
	ticks := make([]types.Tick, len(closes))
	for i, c := range closes {
		p := decimal.NewFromInt(c)
		ticks[i] = types.Tick{
			Symbol: "AAPL",
			Time:   baseTime.Add(time.Duration(i) * time.Hour),
			Open:   p,
			High:   p,
			Low:    p,
			Close:  p,
		}
	}
	return ticks
}

// scenario submits a market buy and a limit sell before the first tick.
type scenario struct {
	events  []types.EventKind
	ticks   int
	failAt  int
	onEvent error
}

func (s *scenario) Name() string { return "scenario" }

func (s *scenario) Prepare(b *broker.Broker) error {
	if err := b.SubmitOrder(1, types.NewOrder("AAPL", types.SideBuy, decimal.NewFromInt(10), types.Market())); err != nil {
		return err
	}
	return b.SubmitOrder(2, types.NewOrder("AAPL", types.SideSell, decimal.NewFromInt(10), types.Limit(decimal.NewFromInt(102))))
}

func (s *scenario) OnEvent(e types.Event, b *broker.Broker) error {
	s.events = append(s.events, e.Kind)
	return s.onEvent
}

func (s *scenario) OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error {
	s.ticks++
	if s.failAt > 0 && s.ticks == s.failAt {
		return errors.New("boom")
	}
	return nil
}

func newRunner(t *testing.T, cfg Config, feed observer.Feed, strat strategy.Strategy) (*Runner, *broker.Broker) {
	t.Helper()
	b, err := broker.New(broker.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("broker.New() error = %v", err)
	}
	r, err := NewRunner(cfg, feed, b, strat, nil)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r, b
}

// TestRunner_EndToEnd tests the reference scenario: buy 10 at 100, sell at
// the first close at or above 102.
func TestRunner_EndToEnd(t *testing.T) {
	strat := &scenario{}
	r, _ := newRunner(t, DefaultConfig(), observer.NewMemoryFeed(hourlyTicks(100, 105, 95), ""), strat)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Ticks != 3 {
		t.Errorf("Ticks = %d, want 3", result.Ticks)
	}
	if len(result.Fills) != 2 {
		t.Fatalf("len(Fills) = %d, want 2", len(result.Fills))
	}
	if !result.EquityCurve[0].Cash.Equal(decimal.NewFromInt(99000)) {
		t.Errorf("cash after tick 1 = %s, want 99000", result.EquityCurve[0].Cash)
	}
	if !result.EndingCash.Equal(decimal.NewFromInt(100050)) {
		t.Errorf("EndingCash = %s, want 100050", result.EndingCash)
	}
	if !result.EndingEquity.Equal(decimal.NewFromInt(100050)) {
		t.Errorf("EndingEquity = %s, want 100050", result.EndingEquity)
	}
	if !result.TotalReturn.Equal(decimal.RequireFromString("0.0005")) {
		t.Errorf("TotalReturn = %s, want 0.0005", result.TotalReturn)
	}
	if len(result.Positions) != 0 {
		t.Errorf("Positions = %v, want none", result.Positions)
	}
	if result.RunID == "" || result.Strategy != "scenario" || result.Feed != "memory" {
		t.Errorf("identity = %q/%q/%q", result.RunID, result.Strategy, result.Feed)
	}

	want := []types.EventKind{types.EventFilled, types.EventFilled}
	if len(strat.events) != len(want) {
		t.Fatalf("events = %v, want %v", strat.events, want)
	}
	if strat.ticks != 3 {
		t.Errorf("OnTick calls = %d, want 3", strat.ticks)
	}
}

func TestRunner_EquityCurve(t *testing.T) {
	r, _ := newRunner(t, DefaultConfig(),
		observer.NewMemoryFeed(hourlyTicks(100, 90, 110), ""),
		strategy.NewBuyAndHold("AAPL", decimal.NewFromInt(100)))

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantEquity := []int64{100000, 99000, 101000}
	for i, w := range wantEquity {
		if !result.EquityCurve[i].Equity.Equal(decimal.NewFromInt(w)) {
			t.Errorf("equity[%d] = %s, want %d", i, result.EquityCurve[i].Equity, w)
		}
	}
	if !result.EquityCurve[1].Drawdown.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("drawdown[1] = %s, want 0.01", result.EquityCurve[1].Drawdown)
	}
	if !result.MaxDrawdown.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("MaxDrawdown = %s, want 0.01", result.MaxDrawdown)
	}
	if len(result.Positions) != 1 {
		t.Errorf("len(Positions) = %d, want 1", len(result.Positions))
	}
}

func TestRunner_FeedErrorPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      FeedErrorPolicy
		wantErr     bool
		wantTicks   int
		wantSkipped int
	}{
		{"abort", FeedErrorAbort, true, 1, 0},
		{"skip", FeedErrorSkip, false, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := observer.NewMemoryFeed(hourlyTicks(100, 101, 102), "").
				FailAt(1, types.ErrInvalidData)
			cfg := DefaultConfig()
			cfg.OnFeedError = tt.policy
			r, _ := newRunner(t, cfg, feed, &scenario{})

			result, err := r.Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, types.ErrInvalidData) {
				t.Errorf("Run() error = %v, want ErrInvalidData", err)
			}
			if result == nil {
				t.Fatal("Run() returned nil result")
			}
			if result.Ticks != tt.wantTicks || result.SkippedTicks != tt.wantSkipped {
				t.Errorf("Ticks/Skipped = %d/%d, want %d/%d",
					result.Ticks, result.SkippedTicks, tt.wantTicks, tt.wantSkipped)
			}
		})
	}
}

func TestRunner_FeedIOErrorAlwaysAborts(t *testing.T) {
	feed := observer.NewMemoryFeed(hourlyTicks(100, 101), "").FailAt(0, errors.New("disk gone"))
	cfg := DefaultConfig()
	cfg.OnFeedError = FeedErrorSkip
	r, _ := newRunner(t, cfg, feed, &scenario{})

	if _, err := r.Run(context.Background()); err == nil {
		t.Error("Run() error = nil, want feed error")
	}
}

func TestRunner_StrategyErrorReturnsPartialResult(t *testing.T) {
	r, _ := newRunner(t, DefaultConfig(),
		observer.NewMemoryFeed(hourlyTicks(100, 105, 95), ""),
		&scenario{failAt: 2})

	result, err := r.Run(context.Background())
	if !errors.Is(err, types.ErrStrategy) {
		t.Fatalf("Run() error = %v, want ErrStrategy", err)
	}
	if result.Ticks != 1 {
		t.Errorf("Ticks = %d, want 1", result.Ticks)
	}
	// The limit sell filled on tick 2 before the strategy failed.
	if len(result.Fills) != 2 {
		t.Errorf("len(Fills) = %d, want 2", len(result.Fills))
	}
	if !strings.Contains(result.Error, "boom") {
		t.Errorf("Error = %q, want it to mention boom", result.Error)
	}
}

func TestRunner_EventHandlerError(t *testing.T) {
	r, _ := newRunner(t, DefaultConfig(),
		observer.NewMemoryFeed(hourlyTicks(100), ""),
		&scenario{onEvent: errors.New("nope")})

	if _, err := r.Run(context.Background()); !errors.Is(err, types.ErrStrategy) {
		t.Errorf("Run() error = %v, want ErrStrategy", err)
	}
}

func TestRunner_BrokerError(t *testing.T) {
	ticks := hourlyTicks(100, 101)
	ticks[0], ticks[1] = ticks[1], ticks[0]
	r, _ := newRunner(t, DefaultConfig(), observer.NewMemoryFeed(ticks, ""), &scenario{})

	_, err := r.Run(context.Background())
	if !errors.Is(err, types.ErrBroker) || !errors.Is(err, types.ErrInvalidData) {
		t.Errorf("Run() error = %v, want ErrBroker wrapping ErrInvalidData", err)
	}
}

func TestRunner_Canceled(t *testing.T) {
	r, _ := newRunner(t, DefaultConfig(), observer.NewMemoryFeed(hourlyTicks(100, 101), ""), &scenario{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if result.Ticks != 0 {
		t.Errorf("Ticks = %d, want 0", result.Ticks)
	}
}

func TestRunner_TimeFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartTime = baseTime.Add(time.Hour)
	cfg.EndTime = baseTime.Add(3 * time.Hour)
	r, _ := newRunner(t, cfg,
		observer.NewMemoryFeed(hourlyTicks(100, 101, 102, 103, 104, 105), ""),
		strategy.NewBuyAndHold("AAPL", decimal.NewFromInt(1)))

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Ticks != 3 {
		t.Errorf("Ticks = %d, want 3", result.Ticks)
	}
	for _, point := range result.EquityCurve {
		if point.Time.Before(cfg.StartTime) || point.Time.After(cfg.EndTime) {
			t.Errorf("equity point %v outside window", point.Time)
		}
	}
	// Bought at the first tick inside the window.
	if !result.Fills[0].Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("fill price = %s, want 101", result.Fills[0].Price)
	}
}

type countingRecorder struct {
	ticks, events, skipped int
	lastPeak               decimal.Decimal
}

func (c *countingRecorder) RecordTick(tick types.Tick, equity, peak, drawdown decimal.Decimal) {
	c.ticks++
	c.lastPeak = peak
}

func (c *countingRecorder) RecordEvent(types.Event) { c.events++ }

func (c *countingRecorder) RecordSkipped() { c.skipped++ }

func TestRunner_RecorderAndProgress(t *testing.T) {
	feed := observer.NewMemoryFeed(hourlyTicks(100, 105, 95), "").FailAt(2, types.ErrInvalidData)
	cfg := DefaultConfig()
	cfg.OnFeedError = FeedErrorSkip
	r, _ := newRunner(t, cfg, feed, &scenario{})

	rec := &countingRecorder{}
	r.SetRecorder(rec)
	var updates []ProgressUpdate
	r.SetProgressCallback(func(u ProgressUpdate) { updates = append(updates, u) })

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rec.ticks != 2 || rec.events != 2 || rec.skipped != 1 {
		t.Errorf("recorder ticks/events/skipped = %d/%d/%d, want 2/2/1", rec.ticks, rec.events, rec.skipped)
	}
	if !rec.lastPeak.Equal(decimal.NewFromInt(100050)) {
		t.Errorf("peak = %s, want 100050", rec.lastPeak)
	}
	// One update per second at most.
	if len(updates) != 1 || updates[0].Ticks != 1 {
		t.Errorf("progress updates = %+v, want one at tick 1", updates)
	}
}

func TestRecorders_FanOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	rs := Recorders{a, b}

	rs.RecordTick(types.Tick{}, decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.Zero)
	rs.RecordEvent(types.Event{})
	rs.RecordSkipped()

	for i, rec := range []*countingRecorder{a, b} {
		if rec.ticks != 1 || rec.events != 1 || rec.skipped != 1 {
			t.Errorf("recorder %d ticks/events/skipped = %d/%d/%d, want 1/1/1", i, rec.ticks, rec.events, rec.skipped)
		}
		if !rec.lastPeak.Equal(decimal.NewFromInt(2)) {
			t.Errorf("recorder %d peak = %s, want 2", i, rec.lastPeak)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"empty", Config{}, false},
		{"bad policy", Config{OnFeedError: "retry"}, true},
		{"end before start", Config{StartTime: baseTime, EndTime: baseTime.Add(-time.Hour)}, true},
		{"negative interval", Config{ProgressInterval: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewRunner_MissingParts(t *testing.T) {
	if _, err := NewRunner(DefaultConfig(), nil, nil, nil, nil); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("NewRunner() error = %v, want ErrInvalidConfig", err)
	}
}

func TestResult_JSON(t *testing.T) {
	r, _ := newRunner(t, DefaultConfig(), observer.NewMemoryFeed(hourlyTicks(100, 105), ""), &scenario{})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Result
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.RunID != result.RunID || len(decoded.Fills) != 2 {
		t.Errorf("decoded = %s with %d fills, want %s with 2", decoded.RunID, len(decoded.Fills), result.RunID)
	}
	if !decoded.EndingCash.Equal(result.EndingCash) {
		t.Errorf("decoded EndingCash = %s, want %s", decoded.EndingCash, result.EndingCash)
	}
}
