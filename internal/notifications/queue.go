package notifications

import (
	"math"
	"time"

	"github.com/bissquit/event-notifications/internal/domain"
)

// BackoffFunction controls how the wait between realtime retries grows.
type BackoffFunction string

// Backoff functions.
const (
	// BackoffConstant waits InitialBackoff before every retry.
	BackoffConstant BackoffFunction = "CONSTANT"
	// BackoffLinear doubles the previous wait.
	BackoffLinear BackoffFunction = "LINEAR"
	// BackoffExponential waits InitialBackoff * e^(retry-1).
	BackoffExponential BackoffFunction = "EX"
)

const maxBackoff = 5 * time.Minute

// IsValid checks if f is a known backoff function.
func (f BackoffFunction) IsValid() bool {
	switch f {
	case BackoffConstant, BackoffLinear, BackoffExponential:
		return true
	}
	return false
}

// Delay returns the wait before the given retry (1-based).
func (f BackoffFunction) Delay(initial time.Duration, retry int) time.Duration {
	if retry <= 1 {
		return initial
	}

	var factor float64
	switch f {
	case BackoffLinear:
		factor = math.Pow(2, float64(retry-1))
	case BackoffExponential:
		factor = math.Exp(float64(retry - 1))
	default:
		factor = 1
	}

	backoff := float64(initial) * factor
	if backoff > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(backoff)
}

// deliveryTask is a notification waiting for realtime delivery.
type deliveryTask struct {
	notification domain.Notification
	events       []domain.NotificationEvent
}
