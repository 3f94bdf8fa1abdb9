package domain

import "errors"

var (
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrOrderRejected    = errors.New("order rejected")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSigningFailed    = errors.New("signing failed")
	ErrWSDisconnect     = errors.New("websocket disconnected")
)
