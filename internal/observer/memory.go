package observer

import (
	"context"
	"io"

	"github.com/tathienbao/backtester/internal/types"
)

// MemoryFeed provides ticks from an in-memory slice.
// Useful for testing.
type MemoryFeed struct {
	ticks  []types.Tick
	errs   map[int]error
	symbol string
	pos    int
}

// NewMemoryFeed creates a feed from pre-loaded ticks. A non-empty symbol
// overrides the symbol of every tick.
func NewMemoryFeed(ticks []types.Tick, symbol string) *MemoryFeed {
	return &MemoryFeed{
		ticks:  ticks,
		errs:   make(map[int]error),
		symbol: symbol,
	}
}

// FailAt makes the i-th call to Next return err instead of a tick.
// The tick at that position is consumed.
func (f *MemoryFeed) FailAt(i int, err error) *MemoryFeed {
	f.errs[i] = err
	return f
}

// Add appends a tick to the feed.
func (f *MemoryFeed) Add(tick types.Tick) {
	f.ticks = append(f.ticks, tick)
}

// Next returns the next tick.
func (f *MemoryFeed) Next(ctx context.Context) (types.Tick, error) {
	if err := ctx.Err(); err != nil {
		return types.Tick{}, err
	}
	if f.pos >= len(f.ticks) {
		return types.Tick{}, io.EOF
	}

	i := f.pos
	f.pos++
	if err, ok := f.errs[i]; ok {
		return types.Tick{}, err
	}

	tick := f.ticks[i]
	if f.symbol != "" {
		tick.Symbol = f.symbol
	}
	return tick, nil
}

// Name returns the feed identifier.
func (f *MemoryFeed) Name() string {
	return "memory"
}

// Close is a no-op for memory feed.
func (f *MemoryFeed) Close() error {
	return nil
}

// Rewind restarts the feed from the first tick.
func (f *MemoryFeed) Rewind() {
	f.pos = 0
}
