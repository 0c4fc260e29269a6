package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderID identifies a pending order. Ids are unique among pending orders only.
type OrderID uint64

// OrderKind is the closed set of order variants.
type OrderKind int

const (
	KindMarket OrderKind = iota
	KindLimit
	KindStop
	KindStopLimit
	KindMarketOnOpen
	KindMarketOnClose
	KindLimitOnOpen
	KindLimitOnClose
)

var kindNames = map[OrderKind]string{
	KindMarket:        "MARKET",
	KindLimit:         "LIMIT",
	KindStop:          "STOP",
	KindStopLimit:     "STOP_LIMIT",
	KindMarketOnOpen:  "MARKET_ON_OPEN",
	KindMarketOnClose: "MARKET_ON_CLOSE",
	KindLimitOnOpen:   "LIMIT_ON_OPEN",
	KindLimitOnClose:  "LIMIT_ON_CLOSE",
}

func (k OrderKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (k OrderKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OrderKind) UnmarshalText(b []byte) error {
	s := strings.ToUpper(string(b))
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: unknown order kind %q", ErrInvalidOrder, string(b))
}

// SessionGated returns true for kinds that only evaluate on the first tick of a session.
func (k OrderKind) SessionGated() bool {
	switch k {
	case KindMarketOnOpen, KindMarketOnClose, KindLimitOnOpen, KindLimitOnClose:
		return true
	default:
		return false
	}
}

// OnClose returns true for kinds that fill against the previous session's last tick.
func (k OrderKind) OnClose() bool {
	return k == KindMarketOnClose || k == KindLimitOnClose
}

// OrderType is an order variant together with its trigger parameters.
type OrderType struct {
	Kind  OrderKind       `json:"kind"`
	Limit decimal.Decimal `json:"limit"`
	Stop  decimal.Decimal `json:"stop"`
}

// Market returns a market order type.
func Market() OrderType { return OrderType{Kind: KindMarket} }

// Limit returns a limit order type at price.
func Limit(price decimal.Decimal) OrderType { return OrderType{Kind: KindLimit, Limit: price} }

// Stop returns a stop order type at price.
func Stop(price decimal.Decimal) OrderType { return OrderType{Kind: KindStop, Stop: price} }

// StopLimit returns a stop order that becomes a limit order at limit once stop triggers.
func StopLimit(stop, limit decimal.Decimal) OrderType {
	return OrderType{Kind: KindStopLimit, Stop: stop, Limit: limit}
}

// MarketOnOpen returns a market order filled on the first tick of the next session.
func MarketOnOpen() OrderType { return OrderType{Kind: KindMarketOnOpen} }

// MarketOnClose returns a market order filled against the last tick of the previous session.
func MarketOnClose() OrderType { return OrderType{Kind: KindMarketOnClose} }

// LimitOnOpen returns a session-open order with a limit price.
func LimitOnOpen(price decimal.Decimal) OrderType {
	return OrderType{Kind: KindLimitOnOpen, Limit: price}
}

// LimitOnClose returns a session-close order with a limit price.
func LimitOnClose(price decimal.Decimal) OrderType {
	return OrderType{Kind: KindLimitOnClose, Limit: price}
}

// HasLimit returns true if the kind carries a limit price.
func (t OrderType) HasLimit() bool {
	switch t.Kind {
	case KindLimit, KindStopLimit, KindLimitOnOpen, KindLimitOnClose:
		return true
	default:
		return false
	}
}

// HasStop returns true if the kind carries a stop price.
func (t OrderType) HasStop() bool {
	return t.Kind == KindStop || t.Kind == KindStopLimit
}

func (t OrderType) String() string {
	switch {
	case t.Kind == KindStopLimit:
		return fmt.Sprintf("%s(%s/%s)", t.Kind, t.Stop, t.Limit)
	case t.HasStop():
		return fmt.Sprintf("%s(%s)", t.Kind, t.Stop)
	case t.HasLimit():
		return fmt.Sprintf("%s(%s)", t.Kind, t.Limit)
	default:
		return t.Kind.String()
	}
}

// TimeInForce controls how long an order may stay pending.
type TimeInForce int

const (
	// GTC orders stay pending until filled or canceled.
	GTC TimeInForce = iota
	// Day orders expire at the start of the next session.
	Day
	// GTD orders expire once the clock passes Order.ExpiresAt.
	GTD
	// IOC orders are canceled if they do not trigger on their first evaluation.
	IOC
	// FOK behaves like IOC since fills are never partial.
	FOK
)

var tifNames = map[TimeInForce]string{
	GTC: "GTC",
	Day: "DAY",
	GTD: "GTD",
	IOC: "IOC",
	FOK: "FOK",
}

func (t TimeInForce) String() string {
	if name, ok := tifNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeInForce) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeInForce) UnmarshalText(b []byte) error {
	s := strings.ToUpper(string(b))
	for tif, name := range tifNames {
		if name == s {
			*t = tif
			return nil
		}
	}
	return fmt.Errorf("%w: unknown time in force %q", ErrInvalidOrder, string(b))
}

// Immediate returns true for policies that allow a single evaluation.
func (t TimeInForce) Immediate() bool {
	return t == IOC || t == FOK
}

// Order is a pending trade instruction.
//
// OnFill and OnCancel hold contingent actions that the broker interprets
// when the order fills or is canceled. They are plain data so orders stay
// comparable and serializable.
type Order struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	SubmittedAt time.Time       `json:"submitted_at"`
	TimeInForce TimeInForce     `json:"time_in_force"`
	ExpiresAt   time.Time       `json:"expires_at,omitzero"`
	OnFill      []Action        `json:"on_fill,omitempty"`
	OnCancel    []Action        `json:"on_cancel,omitempty"`
}

// NewOrder creates a GTC order.
func NewOrder(symbol string, side Side, quantity decimal.Decimal, typ OrderType) Order {
	return Order{
		Symbol:   symbol,
		Quantity: quantity,
		Side:     side,
		Type:     typ,
	}
}

// WithTimeInForce returns a copy of the order using the given policy.
func (o Order) WithTimeInForce(tif TimeInForce) Order {
	o.TimeInForce = tif
	return o
}

// GoodTill returns a copy of the order that expires after t.
func (o Order) GoodTill(t time.Time) Order {
	o.TimeInForce = GTD
	o.ExpiresAt = t
	return o
}

// ThenOnFill returns a copy of the order with actions appended to OnFill.
func (o Order) ThenOnFill(actions ...Action) Order {
	o.OnFill = append(append([]Action(nil), o.OnFill...), actions...)
	return o
}

// ThenOnCancel returns a copy of the order with actions appended to OnCancel.
func (o Order) ThenOnCancel(actions ...Action) Order {
	o.OnCancel = append(append([]Action(nil), o.OnCancel...), actions...)
	return o
}

// Validate checks the order for structural errors.
func (o Order) Validate() error {
	var errs []string

	if o.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if o.Quantity.IsNegative() {
		errs = append(errs, "quantity must not be negative")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		errs = append(errs, fmt.Sprintf("unknown side %d", o.Side))
	}
	if _, ok := kindNames[o.Type.Kind]; !ok {
		errs = append(errs, fmt.Sprintf("unknown order kind %d", o.Type.Kind))
	}
	if o.Type.HasLimit() && !o.Type.Limit.IsPositive() {
		errs = append(errs, "limit price must be positive")
	}
	if o.Type.HasStop() && !o.Type.Stop.IsPositive() {
		errs = append(errs, "stop price must be positive")
	}
	if o.TimeInForce == GTD && o.ExpiresAt.IsZero() {
		errs = append(errs, "GTD order requires an expiry")
	}
	for _, a := range append(append([]Action(nil), o.OnFill...), o.OnCancel...) {
		if err := a.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOrder, strings.Join(errs, "; "))
	}
	return nil
}

// ActionKind identifies a contingent action.
type ActionKind int

const (
	ActionSubmit ActionKind = iota
	ActionCancel
)

func (k ActionKind) String() string {
	switch k {
	case ActionSubmit:
		return "SUBMIT"
	case ActionCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ActionKind) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "SUBMIT":
		*k = ActionSubmit
	case "CANCEL":
		*k = ActionCancel
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidOrder, string(b))
	}
	return nil
}

// Action is a contingent order operation attached to another order.
type Action struct {
	Kind  ActionKind `json:"kind"`
	ID    OrderID    `json:"id"`
	Order *Order     `json:"order,omitempty"`
}

// SubmitAction returns an action that submits order under id.
func SubmitAction(id OrderID, order Order) Action {
	return Action{Kind: ActionSubmit, ID: id, Order: &order}
}

// CancelAction returns an action that cancels the pending order id.
func CancelAction(id OrderID) Action {
	return Action{Kind: ActionCancel, ID: id}
}

// Validate checks the action for structural errors.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionSubmit:
		if a.Order == nil {
			return fmt.Errorf("submit action for order %d has no order", a.ID)
		}
		return a.Order.Validate()
	case ActionCancel:
		return nil
	default:
		return fmt.Errorf("unknown action kind %d", a.Kind)
	}
}
