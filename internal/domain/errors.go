package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnroutable        = errors.New("unroutable message")
	ErrUnknownUpdateKind = errors.New("unknown update kind")
	ErrMalformed         = errors.New("malformed payload")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrLockHeld          = errors.New("lock already held")
)
