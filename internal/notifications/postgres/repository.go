// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/bissquit/event-notifications/internal/notifications"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.Repository using PostgreSQL.
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

// CreateNotificationTx inserts a notification and its events.
func (r *Repository) CreateNotificationTx(ctx context.Context, tx pgx.Tx, notification *domain.Notification, events []domain.NotificationEvent) error {
	query := `
		INSERT INTO notifications (notification_id, client_id, resource_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, query,
		notification.ID,
		notification.ClientID,
		notification.ResourceID,
		notification.Status,
		notification.CreatedAt,
		notification.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(
			`INSERT INTO notification_events (notification_id, event_type, event_info) VALUES ($1, $2, $3)`,
			notification.ID, event.EventType, event.EventInformation,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, event := range events {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert event %s: %w", event.EventType, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close event batch: %w", err)
	}

	return nil
}

// UpdateNotificationStatusTx moves an OPEN notification to status.
// status must be terminal.
func (r *Repository) UpdateNotificationStatusTx(ctx context.Context, tx pgx.Tx, clientID, notificationID string, status domain.NotificationStatus) (bool, error) {
	if !domain.NotificationStatusOpen.CanTransitionTo(status) {
		return false, fmt.Errorf("%w: %s", notifications.ErrInvalidTransition, status)
	}

	query := `
		UPDATE notifications
		SET status = $3, updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
		WHERE notification_id = $1 AND client_id = $2 AND status = 'OPEN'
	`
	result, err := tx.Exec(ctx, query, notificationID, clientID, status)
	if err != nil {
		return false, fmt.Errorf("update notification status: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetNotificationStatusTx locks the notification row and returns its status.
func (r *Repository) GetNotificationStatusTx(ctx context.Context, tx pgx.Tx, clientID, notificationID string) (domain.NotificationStatus, error) {
	query := `
		SELECT status FROM notifications
		WHERE notification_id = $1 AND client_id = $2
		FOR UPDATE
	`
	var status domain.NotificationStatus
	err := tx.QueryRow(ctx, query, notificationID, clientID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", notifications.ErrNotificationNotFound
		}
		return "", fmt.Errorf("get notification status: %w", err)
	}
	return status, nil
}

// StoreErrorTx records a client reported error.
func (r *Repository) StoreErrorTx(ctx context.Context, tx pgx.Tx, notificationError *domain.NotificationError) error {
	query := `
		INSERT INTO notification_errors (notification_id, error_code, error_description)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, query,
		notificationError.NotificationID,
		notificationError.Code,
		notificationError.Description,
	); err != nil {
		return fmt.Errorf("store notification error: %w", err)
	}
	return nil
}

// ClaimOpenNotificationsTx locks up to limit OPEN notifications of the client.
// Rows locked by a concurrent poll are skipped so no notification is returned twice.
func (r *Repository) ClaimOpenNotificationsTx(ctx context.Context, tx pgx.Tx, clientID string, limit int) ([]domain.Notification, error) {
	query := `
		SELECT notification_id, client_id, resource_id, status, created_at, updated_at
		FROM notifications
		WHERE client_id = $1 AND status = 'OPEN'
		ORDER BY created_at ASC, notification_id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim open notifications: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Notification, 0, limit)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.ClientID, &n.ResourceID, &n.Status, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return result, nil
}

// ListEventsTx returns the events of a notification.
func (r *Repository) ListEventsTx(ctx context.Context, tx pgx.Tx, notificationID string) ([]domain.NotificationEvent, error) {
	query := `
		SELECT notification_id, event_type, event_info
		FROM notification_events
		WHERE notification_id = $1
		ORDER BY event_type
	`
	rows, err := tx.Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.NotificationEvent, 0)
	for rows.Next() {
		var e domain.NotificationEvent
		if err := rows.Scan(&e.NotificationID, &e.EventType, &e.EventInformation); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// CountNotificationsTx counts notifications of the client in status.
func (r *Repository) CountNotificationsTx(ctx context.Context, tx pgx.Tx, clientID string, status domain.NotificationStatus) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE client_id = $1 AND status = $2`
	var count int
	if err := tx.QueryRow(ctx, query, clientID, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

// GetQueueStats returns notification counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'OPEN'),
			COUNT(*) FILTER (WHERE status = 'ACK'),
			COUNT(*) FILTER (WHERE status = 'ERR')
		FROM notifications
	`
	var stats notifications.QueueStats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Open, &stats.Ack, &stats.Error); err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}
