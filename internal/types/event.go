package types

import "time"

// EventKind identifies a broker lifecycle event.
type EventKind int

const (
	EventFilled EventKind = iota
	EventConverted
	EventCanceled
	EventExpired
	EventRejected
)

func (k EventKind) String() string {
	switch k {
	case EventFilled:
		return "FILLED"
	case EventConverted:
		return "CONVERTED"
	case EventCanceled:
		return "CANCELED"
	case EventExpired:
		return "EXPIRED"
	case EventRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event records something that happened to an order.
// Fill is set for EventFilled, Reason for EventRejected.
type Event struct {
	Kind    EventKind `json:"kind"`
	OrderID OrderID   `json:"order_id"`
	Order   Order     `json:"order"`
	Fill    *Fill     `json:"fill,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
}
