package domain

import "encoding/json"

type SubscriptionStatus string

const (
	SubscriptionStatusCreated SubscriptionStatus = "CREATED"
)

// EventSubscription is a client's registration of interest in event types.
// RequestData keeps the original request document for merge-patch updates.
type EventSubscription struct {
	ID          string             `json:"subscriptionId"`
	ClientID    string             `json:"clientId"`
	CallbackURL *string            `json:"callbackUrl"`
	SpecVersion *string            `json:"version"`
	Status      SubscriptionStatus `json:"status"`
	Timestamp   int64              `json:"timestamp"`
	RequestData json.RawMessage    `json:"-"`
	EventTypes  []string           `json:"eventTypes"`
}
