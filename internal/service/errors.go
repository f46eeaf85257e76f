package service

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrMissingOutput       = errors.New("provider reported success without output")
	ErrMissingOwner        = errors.New("event has no owner user_id")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrCreditsRequired     = errors.New("insufficient credits, payment required")
)
