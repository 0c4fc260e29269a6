// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/backtest"
	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/clock"
	"github.com/tathienbao/backtester/internal/observer"
	"github.com/tathienbao/backtester/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Backtest BacktestConfig `yaml:"backtest"`
	Strategy StrategyConfig `yaml:"strategy"`
	Data     DataConfig     `yaml:"data"`
	Log      LogConfig      `yaml:"log"`
	Results  ResultsConfig  `yaml:"results"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BrokerConfig holds simulated broker settings.
type BrokerConfig struct {
	Name            string        `yaml:"name"`
	InitialCash     float64       `yaml:"initial_cash"`
	Commission      float64       `yaml:"commission"` // Fraction of notional per fill
	Margin          float64       `yaml:"margin"`     // 1 = fully funded, 0 = unlimited
	ExclusiveOrders bool          `yaml:"exclusive_orders"`
	EnforceFunds    bool          `yaml:"enforce_funds"`
	SessionGap      time.Duration `yaml:"session_gap"`
}

// BacktestConfig holds runner settings.
type BacktestConfig struct {
	Symbol           string        `yaml:"symbol"`
	Start            string        `yaml:"start"`
	End              string        `yaml:"end"`
	OnFeedError      string        `yaml:"on_feed_error"` // abort | skip
	ProgressInterval time.Duration `yaml:"progress_interval"`
	RiskFreeRate     float64       `yaml:"risk_free_rate"`

	start, end time.Time
}

// StrategyConfig selects a strategy and its parameters.
type StrategyConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// DataConfig locates the tick data.
type DataConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // csv | parquet, inferred from the extension when empty
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// ResultsConfig holds result storage settings.
type ResultsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite database
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // Prometheus textfile
}

// Default returns the configuration used for fields missing from a file.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			Name:        "sim",
			InitialCash: 100000,
			Margin:      1,
			SessionGap:  clock.DefaultSessionGap,
		},
		Backtest: BacktestConfig{
			OnFeedError:      string(backtest.FeedErrorAbort),
			ProgressInterval: backtest.DefaultProgressInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
// Environment variables are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", types.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.Broker.InitialCash < 0 {
		errs = append(errs, "broker.initial_cash must not be negative")
	}
	if c.Broker.Commission < -0.1 || c.Broker.Commission > 0.1 {
		errs = append(errs, "broker.commission must be between -0.1 and 0.1")
	}
	if c.Broker.Margin < 0 || c.Broker.Margin > 1 {
		errs = append(errs, "broker.margin must be between 0 and 1")
	}
	if c.Broker.SessionGap < 0 {
		errs = append(errs, "broker.session_gap must not be negative")
	}

	// Backtest validation
	switch backtest.FeedErrorPolicy(c.Backtest.OnFeedError) {
	case "", backtest.FeedErrorAbort, backtest.FeedErrorSkip:
	default:
		errs = append(errs, "backtest.on_feed_error must be 'abort' or 'skip'")
	}
	if c.Backtest.ProgressInterval < 0 {
		errs = append(errs, "backtest.progress_interval must not be negative")
	}
	var err error
	if c.Backtest.start, err = parseTime(c.Backtest.Start); err != nil {
		errs = append(errs, "backtest.start: "+err.Error())
	}
	if c.Backtest.end, err = parseTime(c.Backtest.End); err != nil {
		errs = append(errs, "backtest.end: "+err.Error())
	}
	if !c.Backtest.start.IsZero() && !c.Backtest.end.IsZero() && c.Backtest.end.Before(c.Backtest.start) {
		errs = append(errs, "backtest.end must not be before backtest.start")
	}

	// Strategy validation
	if c.Strategy.Name == "" {
		errs = append(errs, "strategy.name is required")
	}

	// Data validation
	switch c.Data.Format {
	case "", "csv", "parquet":
	default:
		errs = append(errs, "data.format must be 'csv' or 'parquet'")
	}

	// Log validation
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, "log.level: "+err.Error())
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, "log.format must be 'text' or 'json'")
	}

	// Output validation
	if c.Results.Enabled && c.Results.Path == "" {
		errs = append(errs, "results.path is required when results are enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		errs = append(errs, "metrics.path is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return observer.ParseTimestamp(s)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}

// ToBrokerConfig converts to broker.Config.
func (c *Config) ToBrokerConfig() broker.Config {
	return broker.Config{
		Name:            c.Broker.Name,
		InitialCash:     decimal.NewFromFloat(c.Broker.InitialCash),
		Commission:      decimal.NewFromFloat(c.Broker.Commission),
		Margin:          decimal.NewFromFloat(c.Broker.Margin),
		ExclusiveOrders: c.Broker.ExclusiveOrders,
		EnforceFunds:    c.Broker.EnforceFunds,
		SessionGap:      c.Broker.SessionGap,
	}
}

// ToRunnerConfig converts to backtest.Config. Validate must have succeeded.
func (c *Config) ToRunnerConfig() backtest.Config {
	return backtest.Config{
		StartTime:        c.Backtest.start,
		EndTime:          c.Backtest.end,
		OnFeedError:      backtest.FeedErrorPolicy(c.Backtest.OnFeedError),
		ProgressInterval: c.Backtest.ProgressInterval,
	}
}

// RiskFreeRate returns the annual risk-free rate as decimal.
func (c *Config) RiskFreeRate() decimal.Decimal {
	return decimal.NewFromFloat(c.Backtest.RiskFreeRate)
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

// DataFormat returns the configured data format, inferring it from the
// file extension when unset.
func (c *Config) DataFormat() string {
	if c.Data.Format != "" {
		return c.Data.Format
	}
	return FormatFromPath(c.Data.Path)
}

// FormatFromPath returns "parquet" for .parquet files and "csv" otherwise.
func FormatFromPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return "parquet"
	}
	return "csv"
}
