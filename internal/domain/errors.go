package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limited")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrSigningFailed  = errors.New("signing failed")
	ErrStreamClosed   = errors.New("stream session closed")
	ErrResolveProfile = errors.New("profile address resolution failed")
	ErrLockHeld       = errors.New("lock already held")
)
