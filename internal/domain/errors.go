package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("actor is not a party to this booking")
	ErrStateConflict        = errors.New("booking status changed concurrently")
	ErrAvailabilityConflict = errors.New("requested dates are not available")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrPaymentTransient     = errors.New("payment temporarily unavailable")
)
