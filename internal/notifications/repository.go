// Package notifications implements event notification creation, aggregated polling
// and realtime delivery to subscriber callbacks.
package notifications

import (
	"context"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for notification storage.
// Every *Tx method runs inside a transaction opened with BeginTx.
type Repository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)

	CreateNotificationTx(ctx context.Context, tx pgx.Tx, notification *domain.Notification, events []domain.NotificationEvent) error

	// UpdateNotificationStatusTx moves an OPEN notification of the client to status.
	// A non-terminal status fails with ErrInvalidTransition.
	// It reports false without error when the notification is unknown or already terminal.
	UpdateNotificationStatusTx(ctx context.Context, tx pgx.Tx, clientID, notificationID string, status domain.NotificationStatus) (bool, error)

	// GetNotificationStatusTx locks the notification row and returns its status.
	// Returns ErrNotificationNotFound if the client has no such notification.
	GetNotificationStatusTx(ctx context.Context, tx pgx.Tx, clientID, notificationID string) (domain.NotificationStatus, error)

	StoreErrorTx(ctx context.Context, tx pgx.Tx, notificationError *domain.NotificationError) error

	// ClaimOpenNotificationsTx locks up to limit OPEN notifications of the client in
	// creation order, skipping rows locked by other transactions.
	ClaimOpenNotificationsTx(ctx context.Context, tx pgx.Tx, clientID string, limit int) ([]domain.Notification, error)

	ListEventsTx(ctx context.Context, tx pgx.Tx, notificationID string) ([]domain.NotificationEvent, error)

	CountNotificationsTx(ctx context.Context, tx pgx.Tx, clientID string, status domain.NotificationStatus) (int, error)

	GetQueueStats(ctx context.Context) (*QueueStats, error)
}

// QueueStats holds notification counts by status.
type QueueStats struct {
	Open  int
	Ack   int
	Error int
}
