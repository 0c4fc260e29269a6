package observer

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
	"github.com/tathienbao/backtester/pkg/indicator"
)

// Calculator updates a named set of indicators from each tick.
type Calculator struct {
	indicators map[string]indicator.Indicator
}

// NewCalculator creates an empty calculator.
func NewCalculator() *Calculator {
	return &Calculator{
		indicators: make(map[string]indicator.Indicator),
	}
}

// Register adds ind under name, replacing any previous one.
func (c *Calculator) Register(name string, ind indicator.Indicator) *Calculator {
	c.indicators[name] = ind
	return c
}

// OnTick updates every indicator with tick.
func (c *Calculator) OnTick(tick types.Tick) error {
	for _, name := range c.names() {
		if err := c.indicators[name].Update(tick); err != nil {
			return fmt.Errorf("indicator %s: %w", name, err)
		}
	}
	return nil
}

// Value returns the latest value of the named indicator.
func (c *Calculator) Value(name string) (decimal.Decimal, error) {
	ind, ok := c.indicators[name]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown indicator %q", name)
	}
	return ind.Value()
}

// At returns the named indicator's value i updates ago.
func (c *Calculator) At(name string, i int) (decimal.Decimal, error) {
	ind, ok := c.indicators[name]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown indicator %q", name)
	}
	return ind.At(i)
}

// Ready returns true if all indicators have enough data.
func (c *Calculator) Ready() bool {
	for _, ind := range c.indicators {
		if !ind.Ready() {
			return false
		}
	}
	return true
}

// Reset clears all indicator state.
func (c *Calculator) Reset() {
	for _, ind := range c.indicators {
		ind.Reset()
	}
}

func (c *Calculator) names() []string {
	names := make([]string, 0, len(c.indicators))
	for name := range c.indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
