// Package metrics exposes backtest progress as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

const namespace = "backtest"

// Recorder collects metrics for one backtest run on a private registry.
// It implements backtest.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	ticksProcessed prometheus.Counter
	ticksSkipped   prometheus.Counter
	eventsTotal    *prometheus.CounterVec
	fillsTotal     *prometheus.CounterVec
	fillNotional   *prometheus.CounterVec
	commission     prometheus.Counter
	equityCurrent  prometheus.Gauge
	equityPeak     prometheus.Gauge
	drawdown       prometheus.Gauge
	maxDrawdown    prometheus.Gauge
	lastTick       prometheus.Gauge
	runInfo        *prometheus.GaugeVec

	maxDD float64
}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_processed_total",
			Help:      "Ticks fully processed by the runner.",
		}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Malformed ticks skipped by the runner.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_events_total",
			Help:      "Broker order events by kind.",
		}, []string{"kind"}),
		fillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills by symbol and side.",
		}, []string{"symbol", "side"}),
		fillNotional: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_notional_total",
			Help:      "Traded notional by symbol.",
		}, []string{"symbol"}),
		commission: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_total",
			Help:      "Commission charged across all fills.",
		}),
		equityCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity",
			Help:      "Marked equity after the last tick.",
		}),
		equityPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity_high_water_mark",
			Help:      "Highest marked equity seen.",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drawdown_ratio",
			Help:      "Current drawdown from the high water mark.",
		}),
		maxDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_drawdown_ratio",
			Help:      "Largest drawdown seen.",
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Time of the last processed tick.",
		}),
		runInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_info",
			Help:      "Run metadata.",
		}, []string{"run_id", "strategy", "feed"}),
	}

	r.registry.MustRegister(
		r.ticksProcessed,
		r.ticksSkipped,
		r.eventsTotal,
		r.fillsTotal,
		r.fillNotional,
		r.commission,
		r.equityCurrent,
		r.equityPeak,
		r.drawdown,
		r.maxDrawdown,
		r.lastTick,
		r.runInfo,
	)

	return r
}

// Registry returns the registry holding the run's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// SetRunInfo records run metadata.
func (r *Recorder) SetRunInfo(runID, strategy, feed string) {
	r.runInfo.WithLabelValues(runID, strategy, feed).Set(1)
}

// RecordTick records equity metrics after a processed tick.
func (r *Recorder) RecordTick(tick types.Tick, equity, peak, drawdown decimal.Decimal) {
	r.ticksProcessed.Inc()
	r.lastTick.Set(float64(tick.Time.Unix()))
	r.equityCurrent.Set(equity.InexactFloat64())
	r.equityPeak.Set(peak.InexactFloat64())

	dd := drawdown.InexactFloat64()
	r.drawdown.Set(dd)
	if dd > r.maxDD {
		r.maxDD = dd
		r.maxDrawdown.Set(dd)
	}
}

// RecordEvent records a broker order event.
func (r *Recorder) RecordEvent(event types.Event) {
	r.eventsTotal.WithLabelValues(event.Kind.String()).Inc()

	if event.Kind != types.EventFilled || event.Fill == nil {
		return
	}
	f := event.Fill
	r.fillsTotal.WithLabelValues(f.Symbol, f.Side.String()).Inc()
	r.fillNotional.WithLabelValues(f.Symbol).Add(f.Notional().Abs().InexactFloat64())
	// Counters cannot go down, so rebates are not recorded.
	if f.Commission.IsPositive() {
		r.commission.Add(f.Commission.InexactFloat64())
	}
}

// RecordSkipped records a malformed tick skipped by the runner.
func (r *Recorder) RecordSkipped() {
	r.ticksSkipped.Inc()
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
