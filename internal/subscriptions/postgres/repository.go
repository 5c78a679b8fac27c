// Package postgres provides PostgreSQL implementation of subscriptions repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/bissquit/event-notifications/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `subscription_id, client_id, callback_url, spec_version, status, updated_timestamp, request`

// Repository implements subscriptions.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// BeginTx starts a new database transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// CreateSubscriptionTx inserts the subscription row.
func (r *Repository) CreateSubscriptionTx(ctx context.Context, tx pgx.Tx, sub *domain.EventSubscription) error {
	query := `
		INSERT INTO event_subscriptions (subscription_id, client_id, callback_url, spec_version, status, updated_timestamp, request)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, query,
		sub.ID,
		sub.ClientID,
		sub.CallbackURL,
		sub.SpecVersion,
		sub.Status,
		sub.Timestamp,
		sub.RequestData,
	); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetSubscriptionTx retrieves a subscription of the client with its event types.
func (r *Repository) GetSubscriptionTx(ctx context.Context, tx pgx.Tx, clientID, id string) (*domain.EventSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM event_subscriptions WHERE subscription_id = $1 AND client_id = $2`

	sub, err := scanSubscription(tx.QueryRow(ctx, query, id, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscriptions.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	eventTypes, err := r.loadEventTypes(ctx, tx, []string{sub.ID})
	if err != nil {
		return nil, err
	}
	sub.EventTypes = eventTypes[sub.ID]

	return sub, nil
}

// ListByClientTx retrieves all subscriptions of a client.
func (r *Repository) ListByClientTx(ctx context.Context, tx pgx.Tx, clientID string) ([]domain.EventSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM event_subscriptions
		WHERE client_id = $1
		ORDER BY created_at ASC, subscription_id ASC
	`
	return r.list(ctx, tx, query, clientID)
}

// ListByEventTypeTx retrieves the client's subscriptions that include eventType.
func (r *Repository) ListByEventTypeTx(ctx context.Context, tx pgx.Tx, clientID, eventType string) ([]domain.EventSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM event_subscriptions s
		WHERE s.client_id = $1
		  AND EXISTS (
			SELECT 1 FROM subscribed_event_types t
			WHERE t.subscription_id = s.subscription_id AND t.event_type = $2
		  )
		ORDER BY s.created_at ASC, s.subscription_id ASC
	`
	return r.list(ctx, tx, query, clientID, eventType)
}

// UpdateSubscriptionTx stores callback URL, timestamp and request data.
func (r *Repository) UpdateSubscriptionTx(ctx context.Context, tx pgx.Tx, sub *domain.EventSubscription) (bool, error) {
	query := `
		UPDATE event_subscriptions
		SET callback_url = $3, updated_timestamp = $4, request = $5
		WHERE subscription_id = $1 AND client_id = $2
	`
	result, err := tx.Exec(ctx, query, sub.ID, sub.ClientID, sub.CallbackURL, sub.Timestamp, sub.RequestData)
	if err != nil {
		return false, fmt.Errorf("update subscription: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ReplaceEventTypesTx replaces the subscription's event types.
func (r *Repository) ReplaceEventTypesTx(ctx context.Context, tx pgx.Tx, subscriptionID string, eventTypes []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM subscribed_event_types WHERE subscription_id = $1`, subscriptionID); err != nil {
		return fmt.Errorf("delete event types: %w", err)
	}

	if len(eventTypes) == 0 {
		return nil
	}

	query := `
		INSERT INTO subscribed_event_types (subscription_id, event_type, position)
		SELECT $1::uuid, t.event_type, t.ord - 1
		FROM unnest($2::text[]) WITH ORDINALITY AS t(event_type, ord)
	`
	if _, err := tx.Exec(ctx, query, subscriptionID, eventTypes); err != nil {
		return fmt.Errorf("insert event types: %w", err)
	}

	return nil
}

// DeleteSubscriptionTx removes the subscription and its event types.
func (r *Repository) DeleteSubscriptionTx(ctx context.Context, tx pgx.Tx, clientID, id string) (bool, error) {
	if _, err := tx.Exec(ctx, `
		DELETE FROM subscribed_event_types t
		USING event_subscriptions s
		WHERE t.subscription_id = s.subscription_id AND s.subscription_id = $1 AND s.client_id = $2
	`, id, clientID); err != nil {
		return false, fmt.Errorf("delete event types: %w", err)
	}

	result, err := tx.Exec(ctx, `DELETE FROM event_subscriptions WHERE subscription_id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *Repository) list(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]domain.EventSubscription, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	subs := make([]domain.EventSubscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return subs, nil
	}

	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}

	eventTypes, err := r.loadEventTypes(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].EventTypes = eventTypes[subs[i].ID]
	}

	return subs, nil
}

func (r *Repository) loadEventTypes(ctx context.Context, tx pgx.Tx, subscriptionIDs []string) (map[string][]string, error) {
	query := `
		SELECT subscription_id, event_type
		FROM subscribed_event_types
		WHERE subscription_id = ANY($1::text[]::uuid[])
		ORDER BY subscription_id, position
	`
	rows, err := tx.Query(ctx, query, subscriptionIDs)
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string, len(subscriptionIDs))
	for _, id := range subscriptionIDs {
		result[id] = []string{}
	}

	for rows.Next() {
		var id, eventType string
		if err := rows.Scan(&id, &eventType); err != nil {
			return nil, fmt.Errorf("scan event type: %w", err)
		}
		result[id] = append(result[id], eventType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event types: %w", err)
	}

	return result, nil
}

func scanSubscription(row pgx.Row) (*domain.EventSubscription, error) {
	var sub domain.EventSubscription
	err := row.Scan(
		&sub.ID,
		&sub.ClientID,
		&sub.CallbackURL,
		&sub.SpecVersion,
		&sub.Status,
		&sub.Timestamp,
		&sub.RequestData,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
