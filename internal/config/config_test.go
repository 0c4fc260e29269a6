package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/backtest"
	"github.com/tathienbao/backtester/internal/types"
)

const validYAML = `
broker:
  name: sim
  initial_cash: 50000
  commission: 0.001
  margin: 0.5
  exclusive_orders: true
  enforce_funds: true
  session_gap: 4h

backtest:
  symbol: AAPL
  start: "2024-01-02"
  end: "2024-06-28T16:00:00Z"
  on_feed_error: skip
  progress_interval: 500ms
  risk_free_rate: 0.02

strategy:
  name: sma_crossover
  params:
    symbol: AAPL
    fast: 5
    slow: 20
    quantity: 10

data:
  path: data/aapl.parquet

log:
  level: debug
  format: json

results:
  enabled: true
  path: runs.db

metrics:
  enabled: true
  path: backtest.prom
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	if cfg.Broker.InitialCash != 50000 {
		t.Errorf("InitialCash = %v, want 50000", cfg.Broker.InitialCash)
	}
	if cfg.Broker.SessionGap != 4*time.Hour {
		t.Errorf("SessionGap = %s, want 4h", cfg.Broker.SessionGap)
	}
	if cfg.Backtest.ProgressInterval != 500*time.Millisecond {
		t.Errorf("ProgressInterval = %s, want 500ms", cfg.Backtest.ProgressInterval)
	}
	if cfg.Strategy.Name != "sma_crossover" {
		t.Errorf("Strategy.Name = %s, want sma_crossover", cfg.Strategy.Name)
	}
	if got := cfg.Strategy.Params["slow"]; got != 20 {
		t.Errorf("Params[slow] = %v, want 20", got)
	}
	if cfg.DataFormat() != "parquet" {
		t.Errorf("DataFormat() = %s, want parquet", cfg.DataFormat())
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel() = %s, want DEBUG", cfg.LogLevel())
	}
	if !cfg.Results.Enabled || cfg.Results.Path != "runs.db" {
		t.Errorf("Results = %+v, want enabled runs.db", cfg.Results)
	}
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("strategy:\n  name: buyhold\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	if cfg.Broker.InitialCash != 100000 {
		t.Errorf("InitialCash = %v, want 100000", cfg.Broker.InitialCash)
	}
	if cfg.Broker.Margin != 1 {
		t.Errorf("Margin = %v, want 1", cfg.Broker.Margin)
	}
	if cfg.Backtest.OnFeedError != "abort" {
		t.Errorf("OnFeedError = %s, want abort", cfg.Backtest.OnFeedError)
	}
	if cfg.Backtest.ProgressInterval != backtest.DefaultProgressInterval {
		t.Errorf("ProgressInterval = %s, want %s", cfg.Backtest.ProgressInterval, backtest.DefaultProgressInterval)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel() = %s, want INFO", cfg.LogLevel())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults with strategy", func(c *Config) {}, false},
		{"negative cash", func(c *Config) { c.Broker.InitialCash = -1 }, true},
		{"commission too high", func(c *Config) { c.Broker.Commission = 0.5 }, true},
		{"negative commission allowed", func(c *Config) { c.Broker.Commission = -0.001 }, false},
		{"margin above 1", func(c *Config) { c.Broker.Margin = 1.5 }, true},
		{"zero margin allowed", func(c *Config) { c.Broker.Margin = 0 }, false},
		{"negative session gap", func(c *Config) { c.Broker.SessionGap = -time.Hour }, true},
		{"bad feed policy", func(c *Config) { c.Backtest.OnFeedError = "retry" }, true},
		{"bad start", func(c *Config) { c.Backtest.Start = "yesterday" }, true},
		{"end before start", func(c *Config) {
			c.Backtest.Start = "2024-02-01"
			c.Backtest.End = "2024-01-01"
		}, true},
		{"missing strategy", func(c *Config) { c.Strategy.Name = "" }, true},
		{"bad data format", func(c *Config) { c.Data.Format = "xlsx" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"results without path", func(c *Config) { c.Results.Enabled = true }, true},
		{"metrics without path", func(c *Config) { c.Metrics.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Strategy.Name = "buyhold"
			tt.modify(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_ToBrokerConfig(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	bc := cfg.ToBrokerConfig()
	if !bc.InitialCash.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("InitialCash = %s, want 50000", bc.InitialCash)
	}
	if !bc.Commission.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("Commission = %s, want 0.001", bc.Commission)
	}
	if !bc.Margin.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Margin = %s, want 0.5", bc.Margin)
	}
	if !bc.ExclusiveOrders || !bc.EnforceFunds {
		t.Errorf("flags = %v/%v, want true/true", bc.ExclusiveOrders, bc.EnforceFunds)
	}
	if bc.SessionGap != 4*time.Hour {
		t.Errorf("SessionGap = %s, want 4h", bc.SessionGap)
	}
}

func TestConfig_ToRunnerConfig(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	rc := cfg.ToRunnerConfig()
	if want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); !rc.StartTime.Equal(want) {
		t.Errorf("StartTime = %s, want %s", rc.StartTime, want)
	}
	if want := time.Date(2024, 6, 28, 16, 0, 0, 0, time.UTC); !rc.EndTime.Equal(want) {
		t.Errorf("EndTime = %s, want %s", rc.EndTime, want)
	}
	if rc.OnFeedError != backtest.FeedErrorSkip {
		t.Errorf("OnFeedError = %s, want skip", rc.OnFeedError)
	}
	if err := rc.Validate(); err != nil {
		t.Errorf("runner Validate() error = %v", err)
	}
	if !cfg.RiskFreeRate().Equal(decimal.RequireFromString("0.02")) {
		t.Errorf("RiskFreeRate() = %s, want 0.02", cfg.RiskFreeRate())
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"ticks.csv", "csv"},
		{"ticks.parquet", "parquet"},
		{"TICKS.PARQUET", "parquet"},
		{"ticks", "csv"},
	}

	for _, tt := range tests {
		if got := FormatFromPath(tt.path); got != tt.want {
			t.Errorf("FormatFromPath(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backtest.Symbol != "AAPL" {
		t.Errorf("Symbol = %s, want AAPL", cfg.Backtest.Symbol)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("Load() error = nil, want error")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("broker: [unclosed"))
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("LoadFromBytes() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("BT_DATA_PATH", "/data/ticks.csv")
	t.Setenv("BT_STRATEGY", "buyhold")

	cfg, err := LoadFromBytes([]byte("strategy:\n  name: ${BT_STRATEGY}\ndata:\n  path: ${BT_DATA_PATH}\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if cfg.Data.Path != "/data/ticks.csv" {
		t.Errorf("Data.Path = %s, want /data/ticks.csv", cfg.Data.Path)
	}
	if cfg.Strategy.Name != "buyhold" {
		t.Errorf("Strategy.Name = %s, want buyhold", cfg.Strategy.Name)
	}
}
