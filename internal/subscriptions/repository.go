// Package subscriptions manages client subscriptions to event types.
package subscriptions

import (
	"context"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for subscription storage.
type Repository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)

	CreateSubscriptionTx(ctx context.Context, tx pgx.Tx, sub *domain.EventSubscription) error

	// GetSubscriptionTx returns ErrSubscriptionNotFound if the client has no such subscription.
	GetSubscriptionTx(ctx context.Context, tx pgx.Tx, clientID, id string) (*domain.EventSubscription, error)
	ListByClientTx(ctx context.Context, tx pgx.Tx, clientID string) ([]domain.EventSubscription, error)
	ListByEventTypeTx(ctx context.Context, tx pgx.Tx, clientID, eventType string) ([]domain.EventSubscription, error)

	// UpdateSubscriptionTx stores callback URL, timestamp and request data.
	// It reports false if no row was updated.
	UpdateSubscriptionTx(ctx context.Context, tx pgx.Tx, sub *domain.EventSubscription) (bool, error)

	// ReplaceEventTypesTx deletes the subscription's event types and inserts eventTypes in order.
	ReplaceEventTypesTx(ctx context.Context, tx pgx.Tx, subscriptionID string, eventTypes []string) error

	// DeleteSubscriptionTx removes the subscription and its event types.
	DeleteSubscriptionTx(ctx context.Context, tx pgx.Tx, clientID, id string) (bool, error)
}
