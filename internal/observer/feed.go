// Package observer provides market data feeds for the backtester.
package observer

import (
	"context"
	"io"

	"github.com/tathienbao/backtester/internal/types"
)

// Feed is a pull-based source of ticks in time order.
//
// Next returns io.EOF once the feed is exhausted. A malformed item returns
// an error wrapping types.ErrInvalidData; the caller may keep calling Next
// to skip it.
type Feed interface {
	Next(ctx context.Context) (types.Tick, error)
	// Name returns the feed identifier.
	Name() string
	// Close releases resources.
	Close() error
}

// Collect drains feed into a slice, stopping at the first error other than io.EOF.
func Collect(ctx context.Context, feed Feed) ([]types.Tick, error) {
	var ticks []types.Tick
	for {
		tick, err := feed.Next(ctx)
		if err == io.EOF {
			return ticks, nil
		}
		if err != nil {
			return ticks, err
		}
		ticks = append(ticks, tick)
	}
}
