package notifications

import "errors"

// Request errors.
var (
	ErrValidation             = errors.New("invalid request")
	ErrLongPollingUnsupported = errors.New("long polling is not supported")
)

// Repository errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidTransition    = errors.New("invalid notification status transition")
)

// Operation errors. Both wrap the underlying cause.
var (
	ErrPersistence = errors.New("persist notification")
	ErrPolling     = errors.New("poll notifications")
)
