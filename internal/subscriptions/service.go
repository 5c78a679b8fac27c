package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/bissquit/event-notifications/internal/pkg/ctxlog"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Service implements subscription management.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewService creates a new subscriptions service.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// CreateSubscriptionInput contains data for creating a subscription.
// RequestData is the original request document.
type CreateSubscriptionInput struct {
	ClientID    string
	CallbackURL *string
	SpecVersion *string
	EventTypes  []string
	RequestData json.RawMessage
}

// UpdateSubscriptionInput contains data for updating a subscription.
// An empty EventTypes keeps the stored event types.
type UpdateSubscriptionInput struct {
	ID          string
	ClientID    string
	CallbackURL *string
	EventTypes  []string
	RequestData json.RawMessage
}

// CreateSubscription stores a subscription and its event types.
func (s *Service) CreateSubscription(ctx context.Context, input CreateSubscriptionInput) (*domain.EventSubscription, error) {
	if strings.TrimSpace(input.ClientID) == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrValidation)
	}

	requestData := input.RequestData
	if len(requestData) == 0 {
		requestData = json.RawMessage("{}")
	}
	if err := requireObject(requestData); err != nil {
		return nil, err
	}

	sub := &domain.EventSubscription{
		ID:          s.newID(),
		ClientID:    input.ClientID,
		CallbackURL: input.CallbackURL,
		SpecVersion: input.SpecVersion,
		Status:      domain.SubscriptionStatusCreated,
		Timestamp:   s.now().Unix(),
		RequestData: requestData,
		EventTypes:  normalizeEventTypes(input.EventTypes),
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer rollback(ctx, tx)

	if err := s.repo.CreateSubscriptionTx(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if len(sub.EventTypes) > 0 {
		if err := s.repo.ReplaceEventTypesTx(ctx, tx, sub.ID, sub.EventTypes); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}

	ctxlog.FromContext(ctx).Info("subscription created",
		"subscription_id", sub.ID,
		"client_id", sub.ClientID,
		"event_types", len(sub.EventTypes),
	)

	return sub, nil
}

// GetSubscription returns a subscription of the client.
func (s *Service) GetSubscription(ctx context.Context, clientID, id string) (*domain.EventSubscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSubscriptionNotFound
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer rollback(ctx, tx)

	sub, err := s.repo.GetSubscriptionTx(ctx, tx, clientID, id)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}

	return sub, nil
}

// ListSubscriptions returns all subscriptions of the client.
func (s *Service) ListSubscriptions(ctx context.Context, clientID string) ([]domain.EventSubscription, error) {
	return s.list(ctx, func(tx pgx.Tx) ([]domain.EventSubscription, error) {
		return s.repo.ListByClientTx(ctx, tx, clientID)
	})
}

// ListSubscriptionsByEventType returns the client's subscriptions to eventType.
func (s *Service) ListSubscriptionsByEventType(ctx context.Context, clientID, eventType string) ([]domain.EventSubscription, error) {
	normalized := normalizeEventTypes([]string{eventType})
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: event type is required", ErrValidation)
	}

	return s.list(ctx, func(tx pgx.Tx) ([]domain.EventSubscription, error) {
		return s.repo.ListByEventTypeTx(ctx, tx, clientID, normalized[0])
	})
}

func (s *Service) list(ctx context.Context, fn func(tx pgx.Tx) ([]domain.EventSubscription, error)) ([]domain.EventSubscription, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer rollback(ctx, tx)

	subs, err := fn(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}

	return subs, nil
}

// UpdateSubscription merges input.RequestData into the stored request document and
// replaces the event types when input.EventTypes is not empty.
// It reports false without error when nothing was updated.
func (s *Service) UpdateSubscription(ctx context.Context, input UpdateSubscriptionInput) (bool, error) {
	if _, err := uuid.Parse(input.ID); err != nil {
		return false, nil
	}

	incoming := input.RequestData
	if len(incoming) == 0 {
		incoming = json.RawMessage("{}")
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer rollback(ctx, tx)

	stored, err := s.repo.GetSubscriptionTx(ctx, tx, input.ClientID, input.ID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	merged, err := mergeRequestData(stored.RequestData, incoming)
	if err != nil {
		return false, err
	}

	stored.RequestData = merged
	stored.Timestamp = s.now().Unix()
	if input.CallbackURL != nil {
		stored.CallbackURL = input.CallbackURL
	}

	updated, err := s.repo.UpdateSubscriptionTx(ctx, tx, stored)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !updated {
		return false, nil
	}

	eventTypes := normalizeEventTypes(input.EventTypes)
	if len(eventTypes) > 0 {
		if err := s.repo.ReplaceEventTypesTx(ctx, tx, stored.ID, eventTypes); err != nil {
			return false, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}

	ctxlog.FromContext(ctx).Info("subscription updated",
		"subscription_id", stored.ID,
		"client_id", stored.ClientID,
		"event_types_replaced", len(eventTypes) > 0,
	)

	return true, nil
}

// DeleteSubscription removes a subscription and its event types.
// It reports whether a subscription was removed.
func (s *Service) DeleteSubscription(ctx context.Context, clientID, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer rollback(ctx, tx)

	deleted, err := s.repo.DeleteSubscriptionTx(ctx, tx, clientID, id)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}

	if deleted {
		ctxlog.FromContext(ctx).Info("subscription deleted", "subscription_id", id, "client_id", clientID)
	}

	return deleted, nil
}

// ResolveCallbackURL returns the callback URL of the client's first subscription
// that has one, or an empty string.
func (s *Service) ResolveCallbackURL(ctx context.Context, clientID string) (string, error) {
	subs, err := s.ListSubscriptions(ctx, clientID)
	if err != nil {
		return "", err
	}

	for _, sub := range subs {
		if sub.CallbackURL != nil && *sub.CallbackURL != "" {
			return *sub.CallbackURL, nil
		}
	}
	return "", nil
}

func requireObject(data json.RawMessage) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return fmt.Errorf("%w: request data must be a JSON object", ErrSubscriptionData)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}
