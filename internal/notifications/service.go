package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/bissquit/event-notifications/internal/pkg/ctxlog"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
)

// Dispatcher schedules realtime delivery of a persisted notification.
// Implementations must not block the caller.
type Dispatcher interface {
	Enqueue(notification domain.Notification, events []domain.NotificationEvent) bool
}

// CreateNotificationInput contains data for creating a notification.
type CreateNotificationInput struct {
	ClientID   string
	ResourceID string
	Events     map[string]json.RawMessage
}

// Service creates notifications from resource server events.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	now        func() time.Time
	newID      func() string
}

// NewService creates a new notification creation service.
// dispatcher may be nil when realtime delivery is disabled.
func NewService(repo Repository, dispatcher Dispatcher) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		now:        time.Now,
		newID:      newNotificationID,
	}
}

// CreateNotification persists a notification with one event per entry of input.Events
// and returns the generated notification ID.
func (s *Service) CreateNotification(ctx context.Context, input CreateNotificationInput) (string, error) {
	if err := validateCreateInput(input); err != nil {
		return "", err
	}

	ts := s.now().Unix()
	notification := domain.Notification{
		ID:         s.newID(),
		ClientID:   input.ClientID,
		ResourceID: input.ResourceID,
		Status:     domain.NotificationStatusOpen,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}

	eventTypes := make([]string, 0, len(input.Events))
	for eventType := range input.Events {
		eventTypes = append(eventTypes, eventType)
	}
	sort.Strings(eventTypes)

	events := make([]domain.NotificationEvent, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		payload := input.Events[eventType]
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		events = append(events, domain.NotificationEvent{
			NotificationID:   notification.ID,
			EventType:        eventType,
			EventInformation: payload,
		})
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if err := s.repo.CreateNotificationTx(ctx, tx, &notification, events); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}

	recordNotificationCreated(len(events))
	ctxlog.FromContext(ctx).Info("notification created",
		"notification_id", notification.ID,
		"client_id", notification.ClientID,
		"events", len(events),
	)

	if s.dispatcher != nil && !s.dispatcher.Enqueue(notification, events) {
		ctxlog.FromContext(ctx).Warn("realtime queue full, notification left for polling",
			"notification_id", notification.ID,
		)
	}

	return notification.ID, nil
}

// maxIdentifierLength bounds client ids, resource ids and event types.
const maxIdentifierLength = 255

func validateCreateInput(input CreateNotificationInput) error {
	if strings.TrimSpace(input.ClientID) == "" {
		return fmt.Errorf("%w: client id is required", ErrValidation)
	}
	if strings.TrimSpace(input.ResourceID) == "" {
		return fmt.Errorf("%w: resource id is required", ErrValidation)
	}
	if utf8.RuneCountInString(input.ClientID) > maxIdentifierLength {
		return fmt.Errorf("%w: client id exceeds %d characters", ErrValidation, maxIdentifierLength)
	}
	if utf8.RuneCountInString(input.ResourceID) > maxIdentifierLength {
		return fmt.Errorf("%w: resource id exceeds %d characters", ErrValidation, maxIdentifierLength)
	}
	if len(input.Events) == 0 {
		return fmt.Errorf("%w: at least one event is required", ErrValidation)
	}
	for eventType, payload := range input.Events {
		if strings.TrimSpace(eventType) == "" {
			return fmt.Errorf("%w: event type is empty", ErrValidation)
		}
		if utf8.RuneCountInString(eventType) > maxIdentifierLength {
			return fmt.Errorf("%w: event type exceeds %d characters", ErrValidation, maxIdentifierLength)
		}
		if len(payload) > 0 && !json.Valid(payload) {
			return fmt.Errorf("%w: payload of %s is not valid JSON", ErrValidation, eventType)
		}
	}
	return nil
}

// newNotificationID returns a ULID. IDs created within one millisecond still
// sort in creation order.
func newNotificationID() string {
	return ulid.Make().String()
}
