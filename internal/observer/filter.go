package observer

import (
	"context"
	"io"
	"time"

	"github.com/tathienbao/backtester/internal/types"
)

// Filter passes through ticks within [start, end]. Zero bounds are open.
type Filter struct {
	feed  Feed
	start time.Time
	end   time.Time
}

// NewFilter wraps feed with a time window.
func NewFilter(feed Feed, start, end time.Time) *Filter {
	return &Filter{feed: feed, start: start, end: end}
}

// Next returns the next tick inside the window. Ticks after end stop the feed.
func (f *Filter) Next(ctx context.Context) (types.Tick, error) {
	for {
		tick, err := f.feed.Next(ctx)
		if err != nil {
			return tick, err
		}
		if !f.start.IsZero() && tick.Time.Before(f.start) {
			continue
		}
		if !f.end.IsZero() && tick.Time.After(f.end) {
			return types.Tick{}, io.EOF
		}
		return tick, nil
	}
}

// Name returns the wrapped feed's name.
func (f *Filter) Name() string {
	return f.feed.Name()
}

// Close closes the wrapped feed.
func (f *Filter) Close() error {
	return f.feed.Close()
}
