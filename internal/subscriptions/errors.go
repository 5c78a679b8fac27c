package subscriptions

import "errors"

// Service errors.
var (
	ErrValidation           = errors.New("invalid subscription")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionData     = errors.New("malformed subscription data")
	ErrPersistence          = errors.New("persist subscription")
)
