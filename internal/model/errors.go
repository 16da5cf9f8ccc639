package model

import "errors"

// Sentinel errors form the rejection taxonomy shared by the execution engine,
// the stores, and the HTTP layer. Components return these (possibly wrapped
// with %w); handlers translate them 1:1 into status codes.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidOrderState    = errors.New("invalid order state")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrStoreFailure         = errors.New("store failure")
)

// IsRejection reports whether err is a client-side rejection (the caller's
// request was understood but refused) as opposed to an infrastructure
// failure. The matcher uses this to tell "not yet eligible" from "retry
// next tick".
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientHoldings) ||
		errors.Is(err, ErrInvalidOrderState)
}
