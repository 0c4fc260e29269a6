package types

import "errors"

// Sentinel errors for the backtester.
var (
	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Order errors
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientMargin = errors.New("insufficient margin")

	// Data errors
	ErrInvalidData = errors.New("invalid market data")

	// Collaborator errors
	ErrStrategy = errors.New("strategy error")
	ErrBroker   = errors.New("broker error")
)
