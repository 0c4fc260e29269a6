package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/backtest"
	"github.com/tathienbao/backtester/internal/types"
)

func setupTestDB(t *testing.T) *SQLiteRepository {
	t.Helper()

	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testResult(startedAt time.Time) *backtest.Result {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	take := types.NewOrder("AAPL", types.SideSell, decimal.NewFromInt(10), types.Limit(decimal.NewFromInt(105)))
	stop := types.NewOrder("AAPL", types.SideSell, decimal.NewFromInt(10), types.Stop(decimal.NewFromInt(95))).
		ThenOnFill(types.CancelAction(3))

	return &backtest.Result{
		RunID:        uuid.NewString(),
		Strategy:     "bracket",
		Feed:         "memory",
		StartedAt:    startedAt,
		Runtime:      1500 * time.Millisecond,
		StartingCash: decimal.NewFromInt(100000),
		EndingCash:   decimal.NewFromInt(99000),
		EndingEquity: decimal.NewFromInt(100020),
		TotalReturn:  decimal.RequireFromString("0.0002"),
		MaxDrawdown:  decimal.RequireFromString("0.001"),
		Ticks:        3,
		SkippedTicks: 1,
		Fills: []types.Fill{
			{
				ID:         uuid.NewString(),
				OrderID:    1,
				Symbol:     "AAPL",
				Side:       types.SideBuy,
				Kind:       types.KindMarket,
				Quantity:   decimal.NewFromInt(10),
				Price:      decimal.NewFromInt(100),
				Commission: decimal.RequireFromString("0.5"),
				Time:       day,
			},
		},
		Pending:  map[types.OrderID]types.Order{2: stop},
		Canceled: map[types.OrderID]types.Order{3: take},
		Rejected: map[types.OrderID]types.Order{},
		EquityCurve: []backtest.EquityPoint{
			{Time: day, Cash: decimal.NewFromInt(100000), Equity: decimal.NewFromInt(100000), Drawdown: decimal.Zero},
			{Time: day.Add(time.Hour), Cash: decimal.NewFromInt(99000), Equity: decimal.NewFromInt(99900), Drawdown: decimal.RequireFromString("0.001")},
			{Time: day.Add(2 * time.Hour), Cash: decimal.NewFromInt(99000), Equity: decimal.NewFromInt(100020), Drawdown: decimal.Zero},
		},
	}
}

func TestSQLiteRepository_SaveAndGetRun(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	result := testResult(time.Now().Truncate(time.Second))
	summary := backtest.Summary{
		TotalReturn: result.TotalReturn,
		Trades:      1,
		WinRate:     decimal.NewFromInt(1),
	}

	if err := repo.SaveRun(ctx, result, summary); err != nil {
		t.Fatalf("save run: %v", err)
	}

	run, err := repo.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run == nil {
		t.Fatal("expected run, got nil")
	}

	if run.Strategy != "bracket" {
		t.Errorf("Strategy = %s, want bracket", run.Strategy)
	}
	if !run.StartedAt.Equal(result.StartedAt) {
		t.Errorf("StartedAt = %s, want %s", run.StartedAt, result.StartedAt)
	}
	if run.Runtime != result.Runtime {
		t.Errorf("Runtime = %s, want %s", run.Runtime, result.Runtime)
	}
	if !run.EndingEquity.Equal(decimal.NewFromInt(100020)) {
		t.Errorf("EndingEquity = %s, want 100020", run.EndingEquity)
	}
	if !run.TotalReturn.Equal(result.TotalReturn) {
		t.Errorf("TotalReturn = %s, want %s", run.TotalReturn, result.TotalReturn)
	}
	if run.Ticks != 3 || run.SkippedTicks != 1 || run.FillCount != 1 {
		t.Errorf("ticks/skipped/fills = %d/%d/%d, want 3/1/1", run.Ticks, run.SkippedTicks, run.FillCount)
	}
	if run.Summary.Trades != 1 || !run.Summary.WinRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Summary = %+v, want 1 trade at win rate 1", run.Summary)
	}
}

func TestSQLiteRepository_GetRunNotFound(t *testing.T) {
	repo := setupTestDB(t)

	run, err := repo.GetRun(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run != nil {
		t.Errorf("GetRun(missing) = %+v, want nil", run)
	}
}

func TestSQLiteRepository_DuplicateRun(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	result := testResult(time.Now())
	if err := repo.SaveRun(ctx, result, backtest.Summary{}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := repo.SaveRun(ctx, result, backtest.Summary{}); err == nil {
		t.Error("second SaveRun() error = nil, want error")
	}

	// The failed save must not leave partial rows behind.
	fills, err := repo.GetFills(ctx, result.RunID)
	if err != nil {
		t.Fatalf("get fills: %v", err)
	}
	if len(fills) != 1 {
		t.Errorf("fills = %d, want 1", len(fills))
	}
}

func TestSQLiteRepository_Fills(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	result := testResult(time.Now())
	if err := repo.SaveRun(ctx, result, backtest.Summary{}); err != nil {
		t.Fatalf("save run: %v", err)
	}

	fills, err := repo.GetFills(ctx, result.RunID)
	if err != nil {
		t.Fatalf("get fills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}

	got, want := fills[0], result.Fills[0]
	if got.ID != want.ID || got.OrderID != 1 {
		t.Errorf("fill id/order = %s/%d, want %s/1", got.ID, got.OrderID, want.ID)
	}
	if got.Side != types.SideBuy || got.Kind != types.KindMarket {
		t.Errorf("side/kind = %s/%s, want BUY/MARKET", got.Side, got.Kind)
	}
	if !got.Price.Equal(want.Price) || !got.Commission.Equal(want.Commission) {
		t.Errorf("price/commission = %s/%s, want %s/%s", got.Price, got.Commission, want.Price, want.Commission)
	}
	if !got.Time.Equal(want.Time) {
		t.Errorf("Time = %s, want %s", got.Time, want.Time)
	}
}

func TestSQLiteRepository_Orders(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	result := testResult(time.Now())
	if err := repo.SaveRun(ctx, result, backtest.Summary{}); err != nil {
		t.Fatalf("save run: %v", err)
	}

	orders, err := repo.GetOrders(ctx, result.RunID)
	if err != nil {
		t.Fatalf("get orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}

	// Sorted by status: canceled before pending.
	if orders[0].Status != OrderCanceled || orders[0].OrderID != 3 {
		t.Errorf("orders[0] = %s/%d, want canceled/3", orders[0].Status, orders[0].OrderID)
	}
	if orders[1].Status != OrderPending || orders[1].OrderID != 2 {
		t.Errorf("orders[1] = %s/%d, want pending/2", orders[1].Status, orders[1].OrderID)
	}

	stop := orders[1].Order
	if stop.Type.Kind != types.KindStop || !stop.Type.Stop.Equal(decimal.NewFromInt(95)) {
		t.Errorf("pending order type = %s, want STOP(95)", stop.Type)
	}
	if len(stop.OnFill) != 1 || stop.OnFill[0].Kind != types.ActionCancel || stop.OnFill[0].ID != 3 {
		t.Errorf("pending order OnFill = %+v, want cancel of 3", stop.OnFill)
	}
}

func TestSQLiteRepository_EquityCurve(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	result := testResult(time.Now())
	if err := repo.SaveRun(ctx, result, backtest.Summary{}); err != nil {
		t.Fatalf("save run: %v", err)
	}

	curve, err := repo.GetEquityCurve(ctx, result.RunID)
	if err != nil {
		t.Fatalf("get equity curve: %v", err)
	}
	if len(curve) != 3 {
		t.Fatalf("curve = %d points, want 3", len(curve))
	}
	if !curve[1].Equity.Equal(decimal.NewFromInt(99900)) {
		t.Errorf("curve[1].Equity = %s, want 99900", curve[1].Equity)
	}
	if !curve[1].Drawdown.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("curve[1].Drawdown = %s, want 0.001", curve[1].Drawdown)
	}
	if !curve[2].Time.Equal(result.EquityCurve[2].Time) {
		t.Errorf("curve[2].Time = %s, want %s", curve[2].Time, result.EquityCurve[2].Time)
	}
}

func TestSQLiteRepository_ListRuns(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		result := testResult(base.Add(time.Duration(i) * time.Hour))
		if err := repo.SaveRun(ctx, result, backtest.Summary{}); err != nil {
			t.Fatalf("save run %d: %v", i, err)
		}
		ids = append(ids, result.RunID)
	}

	runs, err := repo.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].RunID != ids[2] || runs[1].RunID != ids[1] {
		t.Errorf("run order = %s, %s, want newest first", runs[0].RunID, runs[1].RunID)
	}

	all, err := repo.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all runs = %d, want 3", len(all))
	}
}

func TestSQLiteRepository_DeleteRun(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	result := testResult(time.Now())
	if err := repo.SaveRun(ctx, result, backtest.Summary{}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := repo.DeleteRun(ctx, result.RunID); err != nil {
		t.Fatalf("delete run: %v", err)
	}

	run, err := repo.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run != nil {
		t.Error("run still present after delete")
	}

	fills, _ := repo.GetFills(ctx, result.RunID)
	curve, _ := repo.GetEquityCurve(ctx, result.RunID)
	orders, _ := repo.GetOrders(ctx, result.RunID)
	if len(fills)+len(curve)+len(orders) != 0 {
		t.Errorf("details left: %d fills, %d points, %d orders", len(fills), len(curve), len(orders))
	}
}

func TestSQLiteRepository_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	result := testResult(time.Now())
	if err := repo.SaveRun(ctx, result, backtest.Summary{}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	repo.Close()

	reopened, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("reopen repository: %v", err)
	}
	defer reopened.Close()

	run, err := reopened.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run == nil {
		t.Error("run lost after reopen")
	}
}
