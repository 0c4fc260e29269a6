// Package clock tracks simulated time and trading session boundaries.
package clock

import (
	"time"

	"github.com/tathienbao/backtester/internal/types"
)

// DefaultSessionGap is the gap between consecutive ticks that starts a new session.
const DefaultSessionGap = 8 * time.Hour

// Clock remembers the previous tick and classifies session boundaries.
// Symbol-tagged ticks are also tracked per symbol, so interleaved feeds
// measure gaps and OnClose references against the same instrument.
type Clock struct {
	threshold time.Duration
	now       time.Time
	previous  *types.Tick
	bySymbol  map[string]types.Tick
	session   int
}

// New creates a clock. A non-positive threshold uses DefaultSessionGap.
func New(threshold time.Duration) *Clock {
	if threshold <= 0 {
		threshold = DefaultSessionGap
	}
	return &Clock{
		threshold: threshold,
		bySymbol:  make(map[string]types.Tick),
	}
}

// Threshold returns the session gap.
func (c *Clock) Threshold() time.Duration {
	return c.threshold
}

// IsNewSession reports whether tick starts a new session: there is no
// previous tick of its symbol, or the gap to it exceeds the threshold.
// Untagged ticks are compared with the previous tick of any symbol.
func (c *Clock) IsNewSession(tick types.Tick) bool {
	prev, ok := c.PreviousOf(tick.Symbol)
	if !ok {
		return true
	}
	return c.gapped(prev, tick)
}

func (c *Clock) gapped(prev, tick types.Tick) bool {
	return tick.Time.Sub(prev.Time) > c.threshold
}

// Set moves simulated time to t.
func (c *Clock) Set(t time.Time) {
	c.now = t
}

// Now returns simulated time.
func (c *Clock) Now() time.Time {
	return c.now
}

// Advance records tick as the previous tick and bumps the session counter
// when the gap to the previous tick of any symbol exceeds the threshold.
func (c *Clock) Advance(tick types.Tick) {
	if c.previous == nil || c.gapped(*c.previous, tick) {
		c.session++
	}
	prev := tick
	c.previous = &prev
	if tick.Symbol != "" {
		c.bySymbol[tick.Symbol] = tick
	}
	c.now = tick.Time
}

// Previous returns the last tick passed to Advance.
func (c *Clock) Previous() (types.Tick, bool) {
	if c.previous == nil {
		return types.Tick{}, false
	}
	return *c.previous, true
}

// PreviousOf returns the last tick of symbol passed to Advance. An empty
// symbol returns the last tick of any symbol.
func (c *Clock) PreviousOf(symbol string) (types.Tick, bool) {
	if symbol == "" {
		return c.Previous()
	}
	tick, ok := c.bySymbol[symbol]
	return tick, ok
}

// Session returns the number of sessions seen so far. It is zero before
// the first tick.
func (c *Clock) Session() int {
	return c.session
}
