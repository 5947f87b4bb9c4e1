package orderbook

import "errors"

var (
	// ErrUnknownOrder is returned when a modify or cancel references an
	// order id the book has not seen. Callers treat it as a no-op.
	ErrUnknownOrder = errors.New("unknown order reference")
	// ErrDuplicateOrder is returned when an add reuses a live order id.
	ErrDuplicateOrder = errors.New("duplicate order id")
	// ErrInvalidSide is returned when an add carries neither bid nor ask.
	ErrInvalidSide = errors.New("order side must be bid or ask")
)
