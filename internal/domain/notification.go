package domain

import "encoding/json"

// NotificationStatus represents the delivery state of a notification.
type NotificationStatus string

// Notification statuses. ACK and ERR are terminal.
const (
	NotificationStatusOpen  NotificationStatus = "OPEN"
	NotificationStatusAck   NotificationStatus = "ACK"
	NotificationStatusError NotificationStatus = "ERR"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationStatusAck || s == NotificationStatusError
}

// CanTransitionTo reports whether s may move to next.
// Only OPEN->ACK and OPEN->ERR are allowed.
func (s NotificationStatus) CanTransitionTo(next NotificationStatus) bool {
	return s == NotificationStatusOpen && next.IsTerminal()
}

// Notification is a delivery unit holding one or more events for a client.
// Timestamps are epoch seconds.
type Notification struct {
	ID         string             `json:"notificationId"`
	ClientID   string             `json:"clientId"`
	ResourceID string             `json:"resourceId"`
	Status     NotificationStatus `json:"status"`
	CreatedAt  int64              `json:"createdTimestamp"`
	UpdatedAt  int64              `json:"updatedTimestamp"`
}

// NotificationEvent is a single typed event payload of a notification.
type NotificationEvent struct {
	NotificationID   string          `json:"notificationId"`
	EventType        string          `json:"eventType"`
	EventInformation json.RawMessage `json:"eventInformation"`
}

// NotificationError is an error reported by a client for an OPEN notification.
type NotificationError struct {
	NotificationID string `json:"notificationId"`
	Code           string `json:"err"`
	Description    string `json:"description"`
}
