// Package scheduler decides what happens to each pending order on a tick.
package scheduler

import (
	"sort"

	"github.com/tathienbao/backtester/internal/types"
)

// Outcome classifies a decision.
type Outcome int

const (
	// Keep leaves the order pending unchanged.
	Keep Outcome = iota
	// Fill executes the order against Decision.Reference.
	Fill
	// Replace swaps the order for Decision.Order under the same id.
	Replace
	// Expire removes the order because its time in force ran out.
	Expire
)

func (o Outcome) String() string {
	switch o {
	case Keep:
		return "KEEP"
	case Fill:
		return "FILL"
	case Replace:
		return "REPLACE"
	case Expire:
		return "EXPIRE"
	default:
		return "UNKNOWN"
	}
}

// Decision is the result of evaluating one order against one tick.
type Decision struct {
	Outcome Outcome
	// Reference is the tick whose close the fill uses.
	Reference types.Tick
	// Order is the derived order for Replace.
	Order types.Order
}

// Evaluate classifies order against tick. previous is the tick before this
// one, nil on the first tick. newSession reports whether tick opens a session.
//
// Inequalities are inclusive at the boundary price. Evaluate has no side
// effects; the caller applies the decision.
func Evaluate(order types.Order, tick types.Tick, previous *types.Tick, newSession bool) Decision {
	if expired(order, tick, previous, newSession) {
		return Decision{Outcome: Expire}
	}

	d := match(order, tick, previous, newSession)
	if d.Outcome == Keep && order.TimeInForce.Immediate() {
		return Decision{Outcome: Expire}
	}
	return d
}

func match(order types.Order, tick types.Tick, previous *types.Tick, newSession bool) Decision {
	typ := order.Type

	switch typ.Kind {
	case types.KindMarket:
		return fill(tick)

	case types.KindLimit:
		if limitHit(order.Side, tick, typ) {
			return fill(tick)
		}

	case types.KindStop:
		if stopHit(order.Side, tick, typ) {
			return replace(order, types.Market())
		}

	case types.KindStopLimit:
		if stopHit(order.Side, tick, typ) && limitHit(order.Side, tick, typ) {
			return replace(order, types.Limit(typ.Limit))
		}

	case types.KindMarketOnOpen, types.KindMarketOnClose, types.KindLimitOnOpen, types.KindLimitOnClose:
		if !newSession {
			return Decision{Outcome: Keep}
		}
		ref := tick
		if typ.Kind.OnClose() {
			if previous == nil {
				return Decision{Outcome: Keep}
			}
			ref = *previous
		}
		if typ.HasLimit() && !limitHit(order.Side, ref, typ) {
			return Decision{Outcome: Keep}
		}
		return fill(ref)
	}

	return Decision{Outcome: Keep}
}

// limitHit reports whether close is at or better than the limit.
func limitHit(side types.Side, tick types.Tick, typ types.OrderType) bool {
	if side == types.SideBuy {
		return tick.Close.LessThanOrEqual(typ.Limit)
	}
	return tick.Close.GreaterThanOrEqual(typ.Limit)
}

// stopHit reports whether close has reached the stop.
func stopHit(side types.Side, tick types.Tick, typ types.OrderType) bool {
	if side == types.SideBuy {
		return tick.Close.GreaterThanOrEqual(typ.Stop)
	}
	return tick.Close.LessThanOrEqual(typ.Stop)
}

func expired(order types.Order, tick types.Tick, previous *types.Tick, newSession bool) bool {
	switch order.TimeInForce {
	case types.Day:
		// Session-gated kinds wait for the boundary by definition.
		return newSession && previous != nil && !order.Type.Kind.SessionGated()
	case types.GTD:
		return tick.Time.After(order.ExpiresAt)
	default:
		return false
	}
}

func fill(ref types.Tick) Decision {
	return Decision{Outcome: Fill, Reference: ref}
}

func replace(order types.Order, typ types.OrderType) Decision {
	order.Type = typ
	return Decision{Outcome: Replace, Order: order}
}

// Sorted returns the ids of pending in ascending order.
func Sorted(pending map[types.OrderID]types.Order) []types.OrderID {
	ids := make([]types.OrderID, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
