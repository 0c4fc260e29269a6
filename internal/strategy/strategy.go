// Package strategy implements trading strategies.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/tathienbao/backtester/internal/broker"
	"github.com/tathienbao/backtester/internal/types"
)

// Strategy decides on orders after the broker has processed each tick.
// Strategies submit and cancel orders on the broker directly. They should
// NOT mutate cash or positions by any other route.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string

	// OnTick is called once per tick, after the broker has evaluated
	// pending orders against it.
	OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error
}

// Preparer is implemented by strategies that submit orders before the
// first tick.
type Preparer interface {
	Prepare(b *broker.Broker) error
}

// EventHandler is implemented by strategies that react to fills, cancels,
// expiries, conversions and rejections. Events are delivered after the
// broker pass and before OnTick.
type EventHandler interface {
	OnEvent(event types.Event, b *broker.Broker) error
}

// IDSequence hands out increasing order ids.
type IDSequence struct {
	last types.OrderID
}

// Next returns the next id, starting at 1.
func (s *IDSequence) Next() types.OrderID {
	s.last++
	return s.last
}

// Multi combines multiple strategies. Each sub-strategy must use its own
// symbol or its own id range.
type Multi struct {
	strategies []Strategy
	name       string
}

// NewMulti creates a strategy that runs multiple sub-strategies in order.
func NewMulti(name string, strategies ...Strategy) *Multi {
	return &Multi{
		strategies: strategies,
		name:       name,
	}
}

// Name returns the multi-strategy name.
func (m *Multi) Name() string {
	return m.name
}

// Prepare calls Prepare on every sub-strategy that implements Preparer.
func (m *Multi) Prepare(b *broker.Broker) error {
	for _, s := range m.strategies {
		if p, ok := s.(Preparer); ok {
			if err := p.Prepare(b); err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
		}
	}
	return nil
}

// OnEvent forwards event to every sub-strategy that implements EventHandler.
func (m *Multi) OnEvent(event types.Event, b *broker.Broker) error {
	for _, s := range m.strategies {
		if h, ok := s.(EventHandler); ok {
			if err := h.OnEvent(event, b); err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
		}
	}
	return nil
}

// OnTick runs all sub-strategies, stopping at the first error.
func (m *Multi) OnTick(ctx context.Context, tick types.Tick, b *broker.Broker) error {
	for _, s := range m.strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.OnTick(ctx, tick, b); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return nil
}

// Factory builds a strategy from parameters.
type Factory func(params Params) (Strategy, error)

var registry = map[string]Factory{
	"buyhold":       newBuyAndHoldFromParams,
	"sma_crossover": newSMACrossoverFromParams,
	"bracket":       newBracketFromParams,
	"session_open":  newSessionOpenFromParams,
	"breakout":      newBreakoutFromParams,
	"meanrev":       newMeanReversionFromParams,
}

// New builds the named strategy.
func New(name string, params Params) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", types.ErrInvalidConfig, name)
	}
	s, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return s, nil
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
