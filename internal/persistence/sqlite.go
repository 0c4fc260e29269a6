package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/backtest"
	"github.com/tathienbao/backtester/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			feed TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			runtime_ns INTEGER NOT NULL,
			starting_cash TEXT NOT NULL,
			ending_cash TEXT NOT NULL,
			ending_equity TEXT NOT NULL,
			total_return TEXT NOT NULL,
			max_drawdown TEXT NOT NULL,
			ticks INTEGER NOT NULL,
			skipped_ticks INTEGER NOT NULL DEFAULT 0,
			fill_count INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			order_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			kind TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			commission TEXT NOT NULL,
			time DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_run_id ON fills(run_id, seq)`,

		`CREATE TABLE IF NOT EXISTS orders (
			run_id TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			symbol TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, status, order_id)
		)`,

		`CREATE TABLE IF NOT EXISTS equity (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			time DATETIME NOT NULL,
			cash TEXT NOT NULL,
			equity TEXT NOT NULL,
			drawdown TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveRun saves a result with all of its fills, orders and equity points
// in one transaction.
func (r *SQLiteRepository) SaveRun(ctx context.Context, result *backtest.Result, summary backtest.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO runs (run_id, strategy, feed, started_at, runtime_ns, starting_cash, ending_cash,
			ending_equity, total_return, max_drawdown, ticks, skipped_ticks, fill_count, summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		result.RunID,
		result.Strategy,
		result.Feed,
		result.StartedAt,
		int64(result.Runtime),
		result.StartingCash.String(),
		result.EndingCash.String(),
		result.EndingEquity.String(),
		result.TotalReturn.String(),
		result.MaxDrawdown.String(),
		result.Ticks,
		result.SkippedTicks,
		len(result.Fills),
		string(summaryJSON),
		result.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if err := insertFills(ctx, tx, result.RunID, result.Fills); err != nil {
		return err
	}

	for status, orders := range map[OrderStatus]map[types.OrderID]types.Order{
		OrderPending:  result.Pending,
		OrderCanceled: result.Canceled,
		OrderRejected: result.Rejected,
	} {
		if err := insertOrders(ctx, tx, result.RunID, status, orders); err != nil {
			return err
		}
	}

	if err := insertEquity(ctx, tx, result.RunID, result.EquityCurve); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}

	return nil
}

func insertFills(ctx context.Context, tx *sql.Tx, runID string, fills []types.Fill) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fills
		(id, run_id, seq, order_id, symbol, side, kind, quantity, price, commission, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fill insert: %w", err)
	}
	defer stmt.Close()

	for i, f := range fills {
		_, err := stmt.ExecContext(ctx,
			f.ID,
			runID,
			i,
			int64(f.OrderID),
			f.Symbol,
			f.Side.String(),
			f.Kind.String(),
			f.Quantity.String(),
			f.Price.String(),
			f.Commission.String(),
			f.Time,
		)
		if err != nil {
			return fmt.Errorf("insert fill %s: %w", f.ID, err)
		}
	}

	return nil
}

func insertOrders(ctx context.Context, tx *sql.Tx, runID string, status OrderStatus, orders map[types.OrderID]types.Order) error {
	for id, order := range orders {
		payload, err := json.Marshal(order)
		if err != nil {
			return fmt.Errorf("marshal order %d: %w", id, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO orders (run_id, order_id, status, symbol, payload) VALUES (?, ?, ?, ?, ?)`,
			runID, int64(id), string(status), order.Symbol, string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert %s order %d: %w", status, id, err)
		}
	}

	return nil
}

func insertEquity(ctx context.Context, tx *sql.Tx, runID string, curve []backtest.EquityPoint) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO equity (run_id, seq, time, cash, equity, drawdown)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare equity insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range curve {
		_, err := stmt.ExecContext(ctx, runID, i, p.Time, p.Cash.String(), p.Equity.String(), p.Drawdown.String())
		if err != nil {
			return fmt.Errorf("insert equity point %d: %w", i, err)
		}
	}

	return nil
}

const runColumns = `run_id, strategy, feed, started_at, runtime_ns, starting_cash, ending_cash,
	ending_equity, total_return, max_drawdown, ticks, skipped_ticks, fill_count, summary, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var runtime int64
	var startingCash, endingCash, endingEquity, totalReturn, maxDrawdown, summary string

	err := row.Scan(
		&run.RunID,
		&run.Strategy,
		&run.Feed,
		&run.StartedAt,
		&runtime,
		&startingCash,
		&endingCash,
		&endingEquity,
		&totalReturn,
		&maxDrawdown,
		&run.Ticks,
		&run.SkippedTicks,
		&run.FillCount,
		&summary,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.Runtime = time.Duration(runtime)
	run.StartingCash, _ = decimal.NewFromString(startingCash)
	run.EndingCash, _ = decimal.NewFromString(endingCash)
	run.EndingEquity, _ = decimal.NewFromString(endingEquity)
	run.TotalReturn, _ = decimal.NewFromString(totalReturn)
	run.MaxDrawdown, _ = decimal.NewFromString(maxDrawdown)

	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}

	return &run, nil
}

// GetRun returns a run by id, or nil if it does not exist.
func (r *SQLiteRepository) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	return run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns all runs.
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run and its details.
func (r *SQLiteRepository) DeleteRun(ctx context.Context, runID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"fills", "orders", "equity", "runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// GetFills returns the fills of a run in execution order.
func (r *SQLiteRepository) GetFills(ctx context.Context, runID string) ([]types.Fill, error) {
	query := `SELECT id, order_id, symbol, side, kind, quantity, price, commission, time
		FROM fills WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []types.Fill
	for rows.Next() {
		var f types.Fill
		var orderID int64
		var side, kind, qty, price, commission string

		if err := rows.Scan(&f.ID, &orderID, &f.Symbol, &side, &kind, &qty, &price, &commission, &f.Time); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		if err := f.Side.UnmarshalText([]byte(side)); err != nil {
			return nil, fmt.Errorf("fill %s: %w", f.ID, err)
		}
		if err := f.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, fmt.Errorf("fill %s: %w", f.ID, err)
		}

		f.OrderID = types.OrderID(orderID)
		f.Quantity, _ = decimal.NewFromString(qty)
		f.Price, _ = decimal.NewFromString(price)
		f.Commission, _ = decimal.NewFromString(commission)

		fills = append(fills, f)
	}

	return fills, rows.Err()
}

// GetOrders returns the pending, canceled and rejected orders of a run.
func (r *SQLiteRepository) GetOrders(ctx context.Context, runID string) ([]OrderRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, status, payload FROM orders WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var orderID int64
		var status, payload string

		if err := rows.Scan(&orderID, &status, &payload); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		rec := OrderRecord{RunID: runID, OrderID: types.OrderID(orderID), Status: OrderStatus(status)}
		if err := json.Unmarshal([]byte(payload), &rec.Order); err != nil {
			return nil, fmt.Errorf("decode order %d: %w", orderID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Status != records[j].Status {
			return records[i].Status < records[j].Status
		}
		return records[i].OrderID < records[j].OrderID
	})

	return records, nil
}

// GetEquityCurve returns the equity curve of a run.
func (r *SQLiteRepository) GetEquityCurve(ctx context.Context, runID string) ([]backtest.EquityPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT time, cash, equity, drawdown FROM equity WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query equity curve: %w", err)
	}
	defer rows.Close()

	var curve []backtest.EquityPoint
	for rows.Next() {
		var p backtest.EquityPoint
		var cash, equity, dd string

		if err := rows.Scan(&p.Time, &cash, &equity, &dd); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}

		p.Cash, _ = decimal.NewFromString(cash)
		p.Equity, _ = decimal.NewFromString(equity)
		p.Drawdown, _ = decimal.NewFromString(dd)

		curve = append(curve, p)
	}

	return curve, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)
