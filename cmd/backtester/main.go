// Package main is the entry point for the backtester CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/backtest"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/config"
	"github.com/tathienbao/backtester/internal/metrics"
	"github.com/tathienbao/backtester/internal/observer"
	"github.com/tathienbao/backtester/internal/persistence"
	"github.com/tathienbao/backtester/internal/strategy"
	"github.com/tathienbao/backtester/internal/types"
	"github.com/tathienbao/backtester/internal/ui"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	case "convert":
		cmdConvert(os.Args[2:])
	case "runs":
		cmdRuns(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`Backtester - tick-driven order execution simulator

Usage:
  backtester <command> [options]

Commands:
  run        Run a backtest
  validate   Validate configuration file
  convert    Convert CSV ticks to parquet
  runs       List stored backtest runs
  version    Show version information
  help       Show this help message

Strategies:
  %s

Examples:
  backtester run --config config.yaml
  backtester run --config config.yaml --data data/AAPL_1h.parquet --json
  backtester convert --in data/AAPL_1h.csv --out data/AAPL_1h.parquet --symbol AAPL
  backtester runs --db runs.db --limit 10

Use "backtester <command> --help" for more information about a command.
`, strings.Join(strategy.Names(), ", "))
}

func cmdVersion() {
	fmt.Printf("backtester version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

// newLogger builds the process logger. Logs go to stderr so --json output stays clean.
func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := cfg.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if _, err := strategy.New(cfg.Strategy.Name, strategy.Params(cfg.Strategy.Params)); err != nil {
		fmt.Fprintf(os.Stderr, "Strategy error: %v\n", err)
		os.Exit(1)
	}
	if _, err := broker.New(cfg.ToBrokerConfig(), nil); err != nil {
		fmt.Fprintf(os.Stderr, "Broker error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Initial cash: $%.2f\n", cfg.Broker.InitialCash)
	fmt.Printf("  Commission:   %.4f%%\n", cfg.Broker.Commission*100)
	fmt.Printf("  Margin:       %.2f\n", cfg.Broker.Margin)
	fmt.Printf("  Strategy:     %s\n", cfg.Strategy.Name)
	fmt.Printf("  Data:         %s (%s)\n", cfg.Data.Path, cfg.DataFormat())
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "Path to tick data (overrides data.path)")
	strategyName := fs.String("strategy", "", "Strategy name (overrides strategy.name)")
	jsonOut := fs.Bool("json", false, "Print the result as JSON")
	verbose := fs.Bool("verbose", false, "Verbose output")
	showUI := fs.Bool("ui", false, "Draw a live chart on stderr")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}
	if *strategyName != "" {
		cfg.Strategy.Name = *strategyName
	}
	if cfg.Data.Path == "" {
		fmt.Fprintln(os.Stderr, "Error: --data or data.path is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := newLogger(cfg, *verbose)
	slog.SetDefault(logger)

	// Setup signal handling so an interrupted run still reports its partial result
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var display *ui.Display
	if *showUI {
		display = ui.NewDisplay(os.Stderr, decimal.NewFromFloat(cfg.Broker.InitialCash))
		// The chart owns stderr unless verbose logs were asked for.
		if !*verbose {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
	}

	result, summary, runErr := runBacktest(ctx, cfg, logger, display)
	if result == nil {
		slog.Error("backtest setup failed", "err", runErr)
		os.Exit(1)
	}

	if *jsonOut {
		if err := writeJSON(os.Stdout, result, summary); err != nil {
			slog.Error("failed to write result", "err", err)
			os.Exit(1)
		}
	} else {
		printResults(os.Stdout, result, summary)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			slog.Warn("backtest interrupted", "ticks", result.Ticks)
		}
		os.Exit(1)
	}
}

// runBacktest wires the configured feed, broker and strategy and runs them,
// drawing to display when it is non-nil. A nil result means setup failed
// before the run started.
func runBacktest(ctx context.Context, cfg *config.Config, logger *slog.Logger, display *ui.Display) (*backtest.Result, backtest.Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}

	feed, err := openFeed(cfg.Data.Path, cfg.DataFormat(), cfg.Backtest.Symbol)
	if err != nil {
		return nil, backtest.Summary{}, err
	}
	defer feed.Close()

	b, err := broker.New(cfg.ToBrokerConfig(), logger)
	if err != nil {
		return nil, backtest.Summary{}, err
	}

	strat, err := strategy.New(cfg.Strategy.Name, strategy.Params(cfg.Strategy.Params))
	if err != nil {
		return nil, backtest.Summary{}, err
	}

	runner, err := backtest.NewRunner(cfg.ToRunnerConfig(), feed, b, strat, logger)
	if err != nil {
		return nil, backtest.Summary{}, err
	}

	runner.SetProgressCallback(func(u backtest.ProgressUpdate) {
		if display != nil {
			display.Render()
			return
		}
		logger.Info("progress",
			"ticks", u.Ticks,
			"time", u.Time,
			"equity", u.Equity.StringFixed(2),
			"fills", u.Fills,
			"pending", u.Pending,
		)
	})

	var recorders backtest.Recorders
	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.NewRecorder()
		recorders = append(recorders, rec)
	}
	if display != nil {
		if pf, ok := feed.(*observer.ParquetFeed); ok {
			display.SetTotal(pf.Rows())
		}
		recorders = append(recorders, display)
		display.Start()
	}
	if len(recorders) > 0 {
		runner.SetRecorder(recorders)
	}

	logger.Info("starting backtest",
		"data", cfg.Data.Path,
		"strategy", strat.Name(),
		"cash", cfg.Broker.InitialCash,
	)

	result, runErr := runner.Run(ctx)
	if display != nil {
		display.Stop()
	}
	summary := backtest.NewMetrics(result, cfg.RiskFreeRate()).Summary()

	// Outputs are written for failed runs too; the partial result is still useful.
	if rec != nil {
		rec.SetRunInfo(result.RunID, result.Strategy, result.Feed)
		if err := rec.WriteTextfile(cfg.Metrics.Path); err != nil {
			logger.Error("failed to write metrics", "path", cfg.Metrics.Path, "err", err)
		}
	}
	if cfg.Results.Enabled {
		if err := saveResult(cfg.Results.Path, result, summary); err != nil {
			logger.Error("failed to save result", "path", cfg.Results.Path, "err", err)
		} else {
			logger.Info("result saved", "run_id", result.RunID, "path", cfg.Results.Path)
		}
	}

	return result, summary, runErr
}

func openFeed(path, format, symbol string) (observer.Feed, error) {
	switch format {
	case "parquet":
		return observer.OpenParquet(path, symbol)
	default:
		return observer.OpenCSV(path, symbol)
	}
}

func saveResult(path string, result *backtest.Result, summary backtest.Summary) error {
	repo, err := persistence.NewSQLiteRepository(path)
	if err != nil {
		return err
	}
	defer repo.Close()

	// Saving uses a fresh context so an interrupted run is still stored.
	return repo.SaveRun(context.Background(), result, summary)
}

func writeJSON(w io.Writer, result *backtest.Result, summary backtest.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Result  *backtest.Result `json:"result"`
		Summary backtest.Summary `json:"summary"`
	}{result, summary})
}

func pct(d decimal.Decimal) float64 {
	return d.Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func printResults(w io.Writer, result *backtest.Result, summary backtest.Summary) {
	fmt.Fprintln(w, "\n=== BACKTEST RESULTS ===")
	fmt.Fprintf(w, "Run ID:           %s\n", result.RunID)
	fmt.Fprintf(w, "Strategy:         %s\n", result.Strategy)
	fmt.Fprintf(w, "Ticks:            %d (%d skipped)\n", result.Ticks, result.SkippedTicks)
	fmt.Fprintf(w, "Starting Cash:    $%.2f\n", result.StartingCash.InexactFloat64())
	fmt.Fprintf(w, "Ending Cash:      $%.2f\n", result.EndingCash.InexactFloat64())
	fmt.Fprintf(w, "Ending Equity:    $%.2f\n", result.EndingEquity.InexactFloat64())
	fmt.Fprintf(w, "Total Return:     %.2f%%\n", pct(result.TotalReturn))
	fmt.Fprintf(w, "Max Drawdown:     %.2f%%\n", pct(result.MaxDrawdown))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Fills:            %d\n", len(result.Fills))
	fmt.Fprintf(w, "Pending Orders:   %d\n", len(result.Pending))
	fmt.Fprintf(w, "Canceled Orders:  %d\n", len(result.Canceled))
	fmt.Fprintf(w, "Rejected Orders:  %d\n", len(result.Rejected))
	for _, p := range result.Positions {
		fmt.Fprintf(w, "Position:         %s %s @ %s\n", p.Symbol, p.Quantity, p.AvgPrice.StringFixed(2))
	}
	if result.Error != "" {
		fmt.Fprintf(w, "Error:            %s\n", result.Error)
	}

	fmt.Fprintln(w, "\n=== PERFORMANCE METRICS ===")
	fmt.Fprintf(w, "Round Trips:      %d\n", summary.Trades)
	fmt.Fprintf(w, "Win Rate:         %.2f%%\n", pct(summary.WinRate))
	fmt.Fprintf(w, "Profit Factor:    %.2f\n", summary.ProfitFactor.InexactFloat64())
	fmt.Fprintf(w, "Expectancy:       $%.2f\n", summary.Expectancy.InexactFloat64())
	fmt.Fprintf(w, "Annual Return:    %.2f%%\n", pct(summary.AnnualizedReturn))
	fmt.Fprintf(w, "Sharpe Ratio:     %.2f\n", summary.SharpeRatio.InexactFloat64())
	fmt.Fprintf(w, "Sortino Ratio:    %.2f\n", summary.SortinoRatio.InexactFloat64())
	fmt.Fprintf(w, "Calmar Ratio:     %.2f\n", summary.CalmarRatio.InexactFloat64())
	fmt.Fprintf(w, "Commission:       $%.2f\n", summary.TotalCommission.InexactFloat64())
	fmt.Fprintf(w, "Turnover:         $%.2f\n", summary.Turnover.InexactFloat64())
}

func cmdConvert(args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "Input CSV file (required)")
	out := fs.String("out", "", "Output parquet file (required)")
	symbol := fs.String("symbol", "", "Symbol to stamp on every tick")
	fs.Parse(args)

	if *in == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "Error: --in and --out are required")
		fs.Usage()
		os.Exit(1)
	}

	written, skipped, err := convert(context.Background(), *in, *out, *symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Convert error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d ticks to %s (%d malformed rows skipped)\n", written, *out, skipped)
}

// convert copies a CSV feed into a parquet file, skipping malformed rows.
func convert(ctx context.Context, in, out, symbol string) (written, skipped int, err error) {
	feed, err := observer.OpenCSV(in, symbol)
	if err != nil {
		return 0, 0, err
	}
	defer feed.Close()

	var ticks []types.Tick
	for {
		tick, err := feed.Next(ctx)
		if err == io.EOF {
			break
		}
		if errors.Is(err, types.ErrInvalidData) {
			skipped++
			continue
		}
		if err != nil {
			return 0, skipped, err
		}
		ticks = append(ticks, tick)
	}

	if err := observer.WriteParquetTicks(out, ticks); err != nil {
		return 0, skipped, fmt.Errorf("write parquet: %w", err)
	}
	return len(ticks), skipped, nil
}

func cmdRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "runs.db", "Path to results database")
	limit := fs.Int("limit", 20, "Maximum runs to list (0 = all)")
	fs.Parse(args)

	repo, err := persistence.NewSQLiteRepository(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Database error: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	runs, err := repo.ListRuns(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Database error: %v\n", err)
		os.Exit(1)
	}

	printRuns(os.Stdout, runs)
}

func printRuns(w io.Writer, runs []persistence.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTRATEGY\tTICKS\tFILLS\tRETURN\tMAX DD\tSHARPE\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.2f%%\t%.2f%%\t%.2f\t%s\n",
			r.RunID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Strategy,
			r.Ticks,
			r.FillCount,
			pct(r.TotalReturn),
			pct(r.MaxDrawdown),
			r.Summary.SharpeRatio.InexactFloat64(),
			r.Error,
		)
	}
	tw.Flush()
}
