// Package ui renders a live terminal view of a running backtest.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Candle represents OHLC data for one tick.
type Candle struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// Display draws a candle chart with equity stats. It implements
// backtest.Recorder and is redrawn from the runner's progress callback.
// It is not safe for concurrent use.
type Display struct {
	out   io.Writer
	color bool

	candles     []Candle
	maxCandles  int
	chartHeight int
	width       int

	// Stats
	ticks       int
	total       int64
	skipped     int
	fills       int
	equity      decimal.Decimal
	startEquity decimal.Decimal
	drawdown    decimal.Decimal
	lastEvent   string
	lastTime    string

	// Track lines printed for cleanup
	linesPrinted int
}

// NewDisplay creates a display writing to out. Colors and cursor control
// are used only when out is a terminal.
func NewDisplay(out io.Writer, startEquity decimal.Decimal) *Display {
	width, isTerm := terminalWidth(out)

	maxCandles := width - 12 // Leave room for price axis
	if maxCandles < 20 {
		maxCandles = 20
	}
	if maxCandles > 100 {
		maxCandles = 100
	}

	return &Display{
		out:         out,
		color:       isTerm,
		candles:     make([]Candle, 0, maxCandles),
		maxCandles:  maxCandles,
		chartHeight: 12,
		width:       width,
		equity:      startEquity,
		startEquity: startEquity,
	}
}

// SetTotal sets the expected tick count, enabling the progress bar.
func (d *Display) SetTotal(n int64) {
	d.total = n
}

// Start hides the cursor.
func (d *Display) Start() {
	if d.color {
		fmt.Fprint(d.out, HideCursor)
	}
	fmt.Fprintln(d.out)
}

// Stop draws the final frame and restores the cursor.
func (d *Display) Stop() {
	d.Render()
	if d.color {
		fmt.Fprint(d.out, ShowCursor)
	}
	fmt.Fprintln(d.out)
}

// RecordTick adds a candle and updates equity.
func (d *Display) RecordTick(tick types.Tick, equity, peak, drawdown decimal.Decimal) {
	d.candles = append(d.candles, Candle{Open: tick.Open, High: tick.High, Low: tick.Low, Close: tick.Close})
	if len(d.candles) > d.maxCandles {
		d.candles = d.candles[1:]
	}
	d.ticks++
	d.equity = equity
	d.drawdown = drawdown
	d.lastTime = tick.Time.Format("2006-01-02 15:04")
}

// RecordEvent tracks fills and the latest order event.
func (d *Display) RecordEvent(event types.Event) {
	switch {
	case event.Kind == types.EventFilled && event.Fill != nil:
		d.fills++
		d.lastEvent = fmt.Sprintf("#%d %s %s @ %s", event.OrderID, event.Fill.Side, event.Fill.Quantity, event.Fill.Price)
	case event.Reason != "":
		d.lastEvent = fmt.Sprintf("#%d %s (%s)", event.OrderID, event.Kind, event.Reason)
	default:
		d.lastEvent = fmt.Sprintf("#%d %s", event.OrderID, event.Kind)
	}
}

// RecordSkipped counts a skipped tick.
func (d *Display) RecordSkipped() {
	d.skipped++
}

func (d *Display) paint(code, s string) string {
	if !d.color {
		return s
	}
	return code + s + ColorReset
}

// Render draws the current state, overwriting the previous frame on a terminal.
func (d *Display) Render() {
	// Move cursor up to overwrite previous frame
	if d.color && d.linesPrinted > 0 {
		fmt.Fprintf(d.out, "\033[%dA", d.linesPrinted)
	}

	var lines []string

	lines = append(lines, d.paint(ColorCyan, d.progressLine()))
	lines = append(lines, d.renderChart()...)

	// Stats line
	pnlPct := decimal.Zero
	if !d.startEquity.IsZero() {
		pnlPct = d.equity.Sub(d.startEquity).Div(d.startEquity).Mul(decimal.NewFromInt(100))
	}
	pnlColor := ColorGreen
	if pnlPct.IsNegative() {
		pnlColor = ColorRed
	}

	lines = append(lines, fmt.Sprintf("%s $%.2f (%s) │ %s %s │ %s %d │ %s %s",
		d.paint(ColorBold, "Equity:"), d.equity.InexactFloat64(),
		d.paint(pnlColor, fmt.Sprintf("%+.2f%%", pnlPct.InexactFloat64())),
		d.paint(ColorBold, "DD:"), d.paint(ColorYellow, fmt.Sprintf("%.2f%%", d.drawdown.Mul(decimal.NewFromInt(100)).InexactFloat64())),
		d.paint(ColorBold, "Fills:"), d.fills,
		d.paint(ColorBold, "Last:"), d.lastEvent))

	// Print all lines
	for _, line := range lines {
		if d.color {
			fmt.Fprint(d.out, ClearLine)
		}
		fmt.Fprintln(d.out, line)
	}

	d.linesPrinted = len(lines)
}

func (d *Display) progressLine() string {
	suffix := fmt.Sprintf("%d ticks", d.ticks)
	if d.skipped > 0 {
		suffix += fmt.Sprintf(", %d skipped", d.skipped)
	}
	if d.lastTime != "" {
		suffix += " @ " + d.lastTime
	}

	if d.total <= 0 {
		return suffix
	}

	progress := float64(d.ticks+d.skipped) / float64(d.total)
	if progress > 1 {
		progress = 1
	}
	barWidth := d.width - 50
	if barWidth < 20 {
		barWidth = 20
	}
	filled := int(progress * float64(barWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return fmt.Sprintf("%s %.1f%% %s", bar, progress*100, suffix)
}

// renderChart creates an ASCII candlestick chart.
func (d *Display) renderChart() []string {
	height := d.chartHeight
	if len(d.candles) < 2 {
		lines := make([]string, height)
		for i := range lines {
			lines[i] = d.paint(ColorDim, "        │")
		}
		return lines
	}

	// Find price range
	minPrice := d.candles[0].Low
	maxPrice := d.candles[0].High
	for _, c := range d.candles {
		minPrice = decimal.Min(minPrice, c.Low)
		maxPrice = decimal.Max(maxPrice, c.High)
	}

	// Add padding to price range
	priceRange := maxPrice.Sub(minPrice)
	if priceRange.IsZero() {
		priceRange = decimal.NewFromInt(1)
	}
	padding := priceRange.Mul(decimal.RequireFromString("0.05"))
	minPrice = minPrice.Sub(padding)
	priceRange = maxPrice.Add(padding).Sub(minPrice)

	// Build chart matrix
	width := len(d.candles)
	chart := make([][]rune, height)
	colors := make([][]string, height)
	for i := range chart {
		chart[i] = make([]rune, width)
		colors[i] = make([]string, width)
		for j := range chart[i] {
			chart[i][j] = ' '
		}
	}

	for x, c := range d.candles {
		color := ColorRed
		if c.Close.GreaterThanOrEqual(c.Open) {
			color = ColorGreen
		}

		// y = 0 is the top row
		highY := priceToY(c.High, minPrice, priceRange, height)
		lowY := priceToY(c.Low, minPrice, priceRange, height)
		bodyTop := priceToY(c.Open, minPrice, priceRange, height)
		bodyBottom := priceToY(c.Close, minPrice, priceRange, height)
		if bodyBottom < bodyTop {
			bodyTop, bodyBottom = bodyBottom, bodyTop
		}

		for y := highY; y <= lowY; y++ {
			if y >= 0 && y < height {
				chart[y][x] = '│'
				colors[y][x] = color
			}
		}
		for y := bodyTop; y <= bodyBottom; y++ {
			if y >= 0 && y < height {
				chart[y][x] = '█'
				colors[y][x] = color
			}
		}
	}

	// Convert to strings with price axis
	lines := make([]string, height)
	for y := 0; y < height; y++ {
		var sb strings.Builder

		if y%(height/4) == 0 {
			price := yToPrice(y, minPrice, priceRange, height)
			sb.WriteString(d.paint(ColorDim, fmt.Sprintf("%7.1f │", price.InexactFloat64())))
		} else {
			sb.WriteString(d.paint(ColorDim, "        │"))
		}

		for x := 0; x < width; x++ {
			if colors[y][x] != "" {
				sb.WriteString(d.paint(colors[y][x], string(chart[y][x])))
			} else {
				sb.WriteRune(chart[y][x])
			}
		}

		lines[y] = sb.String()
	}

	lines = append(lines, d.paint(ColorDim, "        └"+strings.Repeat("─", width)))

	return lines
}

// priceToY converts a price to a row index.
func priceToY(price, minPrice, priceRange decimal.Decimal, height int) int {
	if priceRange.IsZero() {
		return height / 2
	}
	normalized := price.Sub(minPrice).Div(priceRange)
	y := decimal.NewFromInt(int64(height - 1)).Sub(normalized.Mul(decimal.NewFromInt(int64(height - 1))))
	return int(y.IntPart())
}

// yToPrice converts a row index back to a price.
func yToPrice(y int, minPrice, priceRange decimal.Decimal, height int) decimal.Decimal {
	normalized := decimal.NewFromInt(int64(height - 1 - y)).Div(decimal.NewFromInt(int64(height - 1)))
	return minPrice.Add(priceRange.Mul(normalized))
}

// terminalWidth returns the width of out and whether it is a terminal.
func terminalWidth(out io.Writer) (int, bool) {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 80, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80, true
	}
	return width, true
}
