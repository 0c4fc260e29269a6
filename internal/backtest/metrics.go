package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// TradingDays is the number of periods per year used to annualize ratios.
const TradingDays = 252

// Metrics provides performance metrics over a result.
//
// Ratios treat each equity point as one period. Equity curves sampled
// per tick give per-tick ratios annualized as if ticks were days.
type Metrics struct {
	result       *Result
	trades       []Trade
	riskFreeRate decimal.Decimal // Annual risk-free rate (e.g., 0.05 for 5%)
}

// NewMetrics creates a new metrics calculator.
func NewMetrics(result *Result, riskFreeRate decimal.Decimal) *Metrics {
	return &Metrics{
		result:       result,
		trades:       RoundTrips(result.Fills),
		riskFreeRate: riskFreeRate,
	}
}

// Trades returns the round trips derived from the fill log.
func (m *Metrics) Trades() []Trade {
	return m.trades
}

// SharpeRatio calculates the annualized Sharpe ratio.
// Sharpe = (mean_return - risk_free) / std_dev_returns * sqrt(252)
func (m *Metrics) SharpeRatio() decimal.Decimal {
	returns := m.calculateReturns()
	if len(returns) < 2 {
		return decimal.Zero
	}

	stdDev := standardDeviation(returns)
	if stdDev.IsZero() {
		return decimal.Zero
	}

	return m.excessReturn(returns).Div(stdDev).Mul(sqrtPeriods())
}

// SortinoRatio calculates the Sortino ratio (uses downside deviation).
// Sortino = (mean_return - risk_free) / downside_deviation * sqrt(252)
func (m *Metrics) SortinoRatio() decimal.Decimal {
	returns := m.calculateReturns()
	if len(returns) < 2 {
		return decimal.Zero
	}

	downsideDev := downsideDeviation(returns, decimal.Zero)
	if downsideDev.IsZero() {
		return decimal.Zero
	}

	return m.excessReturn(returns).Div(downsideDev).Mul(sqrtPeriods())
}

func (m *Metrics) excessReturn(returns []decimal.Decimal) decimal.Decimal {
	periodRf := m.riskFreeRate.Div(decimal.NewFromInt(TradingDays))
	return mean(returns).Sub(periodRf)
}

func sqrtPeriods() decimal.Decimal {
	return decimal.NewFromFloat(math.Sqrt(TradingDays))
}

// MaxDrawdown returns the maximum drawdown as a ratio, starting from the
// starting cash.
func (m *Metrics) MaxDrawdown() decimal.Decimal {
	hwm := m.result.StartingCash
	maxDD := decimal.Zero

	for _, point := range m.result.EquityCurve {
		if point.Equity.GreaterThan(hwm) {
			hwm = point.Equity
		}
		if hwm.IsPositive() {
			dd := hwm.Sub(point.Equity).Div(hwm)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// CalmarRatio calculates the Calmar ratio (annual return / max drawdown).
func (m *Metrics) CalmarRatio() decimal.Decimal {
	maxDD := m.MaxDrawdown()
	if maxDD.IsZero() {
		return decimal.Zero
	}
	return m.AnnualizedReturn().Div(maxDD)
}

// AnnualizedReturn calculates the annualized return over the curve's span.
func (m *Metrics) AnnualizedReturn() decimal.Decimal {
	curve := m.result.EquityCurve
	if len(curve) < 2 || !m.result.StartingCash.IsPositive() {
		return decimal.Zero
	}

	first := curve[0]
	last := curve[len(curve)-1]
	totalReturn := last.Equity.Sub(m.result.StartingCash).Div(m.result.StartingCash)

	days := last.Time.Sub(first.Time).Hours() / 24
	yearsFloat := days / 365
	if yearsFloat < 0.01 { // Less than ~4 days
		return totalReturn
	}

	annualizedFloat := math.Pow(1+totalReturn.InexactFloat64(), 1/yearsFloat) - 1
	if math.IsNaN(annualizedFloat) || math.IsInf(annualizedFloat, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(annualizedFloat)
}

// WinRate returns the share of profitable round trips.
func (m *Metrics) WinRate() decimal.Decimal {
	if len(m.trades) == 0 {
		return decimal.Zero
	}

	wins := 0
	for _, trade := range m.trades {
		if trade.NetPL.IsPositive() {
			wins++
		}
	}

	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(m.trades))))
}

// ProfitFactor calculates gross profit / gross loss.
func (m *Metrics) ProfitFactor() decimal.Decimal {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero

	for _, trade := range m.trades {
		if trade.NetPL.IsPositive() {
			grossProfit = grossProfit.Add(trade.NetPL)
		} else {
			grossLoss = grossLoss.Add(trade.NetPL.Abs())
		}
	}

	if grossLoss.IsZero() {
		return decimal.Zero
	}

	return grossProfit.Div(grossLoss)
}

// AverageWin returns the average winning trade P&L.
func (m *Metrics) AverageWin() decimal.Decimal {
	totalWin := decimal.Zero
	winCount := 0

	for _, trade := range m.trades {
		if trade.NetPL.IsPositive() {
			totalWin = totalWin.Add(trade.NetPL)
			winCount++
		}
	}

	if winCount == 0 {
		return decimal.Zero
	}

	return totalWin.Div(decimal.NewFromInt(int64(winCount)))
}

// AverageLoss returns the average losing trade P&L.
func (m *Metrics) AverageLoss() decimal.Decimal {
	totalLoss := decimal.Zero
	lossCount := 0

	for _, trade := range m.trades {
		if trade.NetPL.IsNegative() {
			totalLoss = totalLoss.Add(trade.NetPL)
			lossCount++
		}
	}

	if lossCount == 0 {
		return decimal.Zero
	}

	return totalLoss.Div(decimal.NewFromInt(int64(lossCount)))
}

// Expectancy calculates expected value per trade.
// Expectancy = (WinRate * AvgWin) + ((1 - WinRate) * AvgLoss)
func (m *Metrics) Expectancy() decimal.Decimal {
	winRate := m.WinRate()
	avgWin := m.AverageWin()
	avgLoss := m.AverageLoss() // Negative

	return winRate.Mul(avgWin).Add(decimal.NewFromInt(1).Sub(winRate).Mul(avgLoss))
}

// TotalCommission returns the sum of commissions over all fills.
func (m *Metrics) TotalCommission() decimal.Decimal {
	total := decimal.Zero
	for _, f := range m.result.Fills {
		total = total.Add(f.Commission)
	}
	return total
}

// Turnover returns traded notional divided by starting cash.
func (m *Metrics) Turnover() decimal.Decimal {
	if !m.result.StartingCash.IsPositive() {
		return decimal.Zero
	}
	notional := decimal.Zero
	for _, f := range m.result.Fills {
		notional = notional.Add(f.Notional())
	}
	return notional.Div(m.result.StartingCash)
}

// Summary is a flat view of all metrics.
type Summary struct {
	TotalReturn      decimal.Decimal `json:"total_return"`
	AnnualizedReturn decimal.Decimal `json:"annualized_return"`
	SharpeRatio      decimal.Decimal `json:"sharpe_ratio"`
	SortinoRatio     decimal.Decimal `json:"sortino_ratio"`
	CalmarRatio      decimal.Decimal `json:"calmar_ratio"`
	MaxDrawdown      decimal.Decimal `json:"max_drawdown"`
	Trades           int             `json:"trades"`
	WinRate          decimal.Decimal `json:"win_rate"`
	ProfitFactor     decimal.Decimal `json:"profit_factor"`
	Expectancy       decimal.Decimal `json:"expectancy"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	Turnover         decimal.Decimal `json:"turnover"`
}

// Summary computes every metric.
func (m *Metrics) Summary() Summary {
	return Summary{
		TotalReturn:      m.result.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn(),
		SharpeRatio:      m.SharpeRatio(),
		SortinoRatio:     m.SortinoRatio(),
		CalmarRatio:      m.CalmarRatio(),
		MaxDrawdown:      m.MaxDrawdown(),
		Trades:           len(m.trades),
		WinRate:          m.WinRate(),
		ProfitFactor:     m.ProfitFactor(),
		Expectancy:       m.Expectancy(),
		TotalCommission:  m.TotalCommission(),
		Turnover:         m.Turnover(),
	}
}

// calculateReturns computes per-point returns from the equity curve.
func (m *Metrics) calculateReturns() []decimal.Decimal {
	curve := m.result.EquityCurve
	if len(curve) < 2 {
		return nil
	}

	returns := make([]decimal.Decimal, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		returns = append(returns, curve[i].Equity.Sub(prev).Div(prev))
	}

	return returns
}

// Helper: mean of decimal slice.
func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}

	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// Helper: sample standard deviation of decimal slice.
func standardDeviation(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	m := mean(values)
	sumSquares := decimal.Zero

	for _, v := range values {
		diff := v.Sub(m)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1)))

	// sqrt using float conversion
	varianceFloat := variance.InexactFloat64()
	if varianceFloat <= 0 {
		return decimal.Zero
	}

	return decimal.NewFromFloat(math.Sqrt(varianceFloat))
}

// Helper: downside deviation (std dev of negative returns only).
func downsideDeviation(returns []decimal.Decimal, target decimal.Decimal) decimal.Decimal {
	negativeReturns := make([]decimal.Decimal, 0)

	for _, r := range returns {
		if r.LessThan(target) {
			negativeReturns = append(negativeReturns, r)
		}
	}

	if len(negativeReturns) < 2 {
		return decimal.Zero
	}

	return standardDeviation(negativeReturns)
}
