package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/bissquit/event-notifications/internal/pkg/ctxlog"
	"github.com/jackc/pgx/v5"
)

// PollStatus is the protocol outcome of a poll.
type PollStatus string

// Poll statuses.
const (
	PollStatusOK       PollStatus = "OK"
	PollStatusNotFound PollStatus = "NOTFOUND"
)

// ErrorReport is an error a client reports for a delivered notification.
type ErrorReport struct {
	Code        string
	Description string
}

// PollRequest is one aggregated polling call.
type PollRequest struct {
	ClientID          string
	Ack               []string
	Errors            map[string]ErrorReport
	MaxEvents         int
	ReturnImmediately bool
}

// AggregatedPollingResponse is the result of a poll.
// Count is the number of OPEN notifications left after Sets.
type AggregatedPollingResponse struct {
	Sets   map[string]string
	Status PollStatus
	Count  int
}

// MoreAvailable reports whether the client has undelivered notifications.
func (r *AggregatedPollingResponse) MoreAvailable() bool {
	return r.Count > 0
}

// PollingService implements the aggregated polling protocol.
type PollingService struct {
	repo         Repository
	generator    Generator
	setsToReturn int
}

// NewPollingService creates a polling service returning at most setsToReturn sets per poll.
func NewPollingService(repo Repository, generator Generator, setsToReturn int) *PollingService {
	return &PollingService{
		repo:         repo,
		generator:    generator,
		setsToReturn: setsToReturn,
	}
}

// PollEvents applies acknowledgements and error reports, then returns the next batch
// of signed notifications. Everything runs in one transaction.
// It returns nil, nil when req.ReturnImmediately is false.
func (s *PollingService) PollEvents(ctx context.Context, req PollRequest) (*AggregatedPollingResponse, error) {
	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrValidation)
	}
	if req.MaxEvents < 0 {
		return nil, fmt.Errorf("%w: maxEvents must not be negative", ErrValidation)
	}
	if !req.ReturnImmediately {
		return nil, nil
	}

	logger := ctxlog.FromContext(ctx).With("client_id", req.ClientID)

	resp, err := s.poll(ctx, req)
	if err != nil {
		logger.Error("poll rolled back", "error", err)
		recordPoll("error")
		return nil, fmt.Errorf("%w: %w", ErrPolling, err)
	}

	recordPoll(string(resp.Status))
	recordSetsDelivered(len(resp.Sets))
	logger.Debug("poll completed",
		"status", resp.Status,
		"sets", len(resp.Sets),
		"count", resp.Count,
		"acked", len(req.Ack),
		"errors", len(req.Errors),
	)

	return resp, nil
}

func (s *PollingService) poll(ctx context.Context, req PollRequest) (*AggregatedPollingResponse, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	for _, id := range req.Ack {
		if _, err := s.repo.UpdateNotificationStatusTx(ctx, tx, req.ClientID, id, domain.NotificationStatusAck); err != nil {
			return nil, fmt.Errorf("acknowledge %s: %w", id, err)
		}
	}

	for id, report := range req.Errors {
		if _, err := s.markFailedTx(ctx, tx, req.ClientID, id, report); err != nil {
			return nil, err
		}
	}

	resp := &AggregatedPollingResponse{
		Sets:   make(map[string]string),
		Status: PollStatusOK,
	}

	if req.MaxEvents > 0 {
		batch, err := s.repo.ClaimOpenNotificationsTx(ctx, tx, req.ClientID, min(req.MaxEvents, s.setsToReturn))
		if err != nil {
			return nil, fmt.Errorf("select notifications: %w", err)
		}

		if len(batch) == 0 {
			resp.Status = PollStatusNotFound
		}

		for _, notification := range batch {
			events, err := s.repo.ListEventsTx(ctx, tx, notification.ID)
			if err != nil {
				return nil, fmt.Errorf("list events of %s: %w", notification.ID, err)
			}

			token, err := s.generator.Generate(notification, events)
			if err != nil {
				return nil, fmt.Errorf("generate notification: %w", err)
			}
			resp.Sets[notification.ID] = token
		}
	}

	open, err := s.repo.CountNotificationsTx(ctx, tx, req.ClientID, domain.NotificationStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("count open notifications: %w", err)
	}
	resp.Count = open - len(resp.Sets)

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return resp, nil
}

// Acknowledge moves an OPEN notification to ACK. It reports false when the
// notification is unknown or already terminal.
func (s *PollingService) Acknowledge(ctx context.Context, clientID, notificationID string) (bool, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (bool, error) {
		return s.repo.UpdateNotificationStatusTx(ctx, tx, clientID, notificationID, domain.NotificationStatusAck)
	})
}

// MarkFailed moves an OPEN notification to ERR and stores the report.
// It reports false when the notification is unknown or already terminal.
func (s *PollingService) MarkFailed(ctx context.Context, clientID, notificationID string, report ErrorReport) (bool, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (bool, error) {
		return s.markFailedTx(ctx, tx, clientID, notificationID, report)
	})
}

func (s *PollingService) markFailedTx(ctx context.Context, tx pgx.Tx, clientID, notificationID string, report ErrorReport) (bool, error) {
	status, err := s.repo.GetNotificationStatusTx(ctx, tx, clientID, notificationID)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get status of %s: %w", notificationID, err)
	}
	if status != domain.NotificationStatusOpen {
		return false, nil
	}

	if _, err := s.repo.UpdateNotificationStatusTx(ctx, tx, clientID, notificationID, domain.NotificationStatusError); err != nil {
		return false, fmt.Errorf("mark %s as failed: %w", notificationID, err)
	}

	if err := s.repo.StoreErrorTx(ctx, tx, &domain.NotificationError{
		NotificationID: notificationID,
		Code:           report.Code,
		Description:    report.Description,
	}); err != nil {
		return false, fmt.Errorf("store error of %s: %w", notificationID, err)
	}

	return true, nil
}

func (s *PollingService) inTx(ctx context.Context, fn func(tx pgx.Tx) (bool, error)) (bool, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	changed, err := fn(tx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}
	return changed, nil
}
