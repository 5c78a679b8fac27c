package notifications

import (
	"context"
	"errors"
	"sync"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/jackc/pgx/v5"
)

// mockState is the data a mockTx restores on rollback.
type mockState struct {
	notifications map[string]domain.Notification
	order         []string
	events        map[string][]domain.NotificationEvent
	errors        []domain.NotificationError
}

func (s *mockState) clone() *mockState {
	c := &mockState{
		notifications: make(map[string]domain.Notification, len(s.notifications)),
		order:         append([]string(nil), s.order...),
		events:        make(map[string][]domain.NotificationEvent, len(s.events)),
		errors:        append([]domain.NotificationError(nil), s.errors...),
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	for k, v := range s.events {
		c.events[k] = append([]domain.NotificationEvent(nil), v...)
	}
	return c
}

// mockTx embeds pgx.Tx so only Commit and Rollback need an implementation.
type mockTx struct {
	pgx.Tx
	repo     *mockRepository
	snapshot *mockState
	closed   bool
}

func (t *mockTx) Commit(_ context.Context) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	if t.repo.commitErr != nil {
		t.repo.state = t.snapshot
		return t.repo.commitErr
	}
	t.repo.commits++
	return nil
}

func (t *mockTx) Rollback(_ context.Context) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.repo.state = t.snapshot
	t.repo.rollbacks++
	return nil
}

type mockRepository struct {
	mu    sync.Mutex
	state *mockState

	beginErr  error
	createErr error
	claimErr  error
	commitErr error

	begins    int
	commits   int
	rollbacks int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		state: &mockState{
			notifications: make(map[string]domain.Notification),
			events:        make(map[string][]domain.NotificationEvent),
		},
	}
}

// add stores an OPEN notification directly, bypassing transactions.
func (m *mockRepository) add(id, clientID string, createdAt int64, eventTypes ...string) domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := domain.Notification{
		ID:         id,
		ClientID:   clientID,
		ResourceID: "resource",
		Status:     domain.NotificationStatusOpen,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	m.state.notifications[id] = n
	m.state.order = append(m.state.order, id)
	for _, t := range eventTypes {
		m.state.events[id] = append(m.state.events[id], domain.NotificationEvent{
			NotificationID:   id,
			EventType:        t,
			EventInformation: []byte(`{"k":"v"}`),
		})
	}
	return n
}

func (m *mockRepository) status(id string) domain.NotificationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.notifications[id].Status
}

func (m *mockRepository) storedErrors() []domain.NotificationError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.NotificationError(nil), m.state.errors...)
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.beginErr != nil {
		return nil, m.beginErr
	}
	m.begins++
	return &mockTx{repo: m, snapshot: m.state.clone()}, nil
}

func (m *mockRepository) CreateNotificationTx(_ context.Context, _ pgx.Tx, n *domain.Notification, events []domain.NotificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.state.notifications[n.ID] = *n
	m.state.order = append(m.state.order, n.ID)
	m.state.events[n.ID] = append([]domain.NotificationEvent(nil), events...)
	return nil
}

func (m *mockRepository) UpdateNotificationStatusTx(_ context.Context, _ pgx.Tx, clientID, id string, status domain.NotificationStatus) (bool, error) {
	if !domain.NotificationStatusOpen.CanTransitionTo(status) {
		return false, ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.state.notifications[id]
	if !ok || n.ClientID != clientID || !n.Status.CanTransitionTo(status) {
		return false, nil
	}
	n.Status = status
	m.state.notifications[id] = n
	return true, nil
}

func (m *mockRepository) GetNotificationStatusTx(_ context.Context, _ pgx.Tx, clientID, id string) (domain.NotificationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.state.notifications[id]
	if !ok || n.ClientID != clientID {
		return "", ErrNotificationNotFound
	}
	return n.Status, nil
}

func (m *mockRepository) StoreErrorTx(_ context.Context, _ pgx.Tx, e *domain.NotificationError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.errors = append(m.state.errors, *e)
	return nil
}

func (m *mockRepository) ClaimOpenNotificationsTx(_ context.Context, _ pgx.Tx, clientID string, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimErr != nil {
		return nil, m.claimErr
	}

	result := make([]domain.Notification, 0, limit)
	for _, id := range m.state.order {
		if len(result) == limit {
			break
		}
		n := m.state.notifications[id]
		if n.ClientID == clientID && n.Status == domain.NotificationStatusOpen {
			result = append(result, n)
		}
	}
	return result, nil
}

func (m *mockRepository) ListEventsTx(_ context.Context, _ pgx.Tx, id string) ([]domain.NotificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.NotificationEvent(nil), m.state.events[id]...), nil
}

func (m *mockRepository) CountNotificationsTx(_ context.Context, _ pgx.Tx, clientID string, status domain.NotificationStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, n := range m.state.notifications {
		if n.ClientID == clientID && n.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) GetQueueStats(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &QueueStats{}
	for _, n := range m.state.notifications {
		switch n.Status {
		case domain.NotificationStatusOpen:
			stats.Open++
		case domain.NotificationStatusAck:
			stats.Ack++
		case domain.NotificationStatusError:
			stats.Error++
		}
	}
	return stats, nil
}

// mockGenerator returns "token-<id>" or fails for failID.
type mockGenerator struct {
	failID string
	calls  int
}

func (g *mockGenerator) Generate(n domain.Notification, _ []domain.NotificationEvent) (string, error) {
	g.calls++
	if n.ID == g.failID {
		return "", errors.New("signing key unavailable")
	}
	return "token-" + n.ID, nil
}

type mockDispatcher struct {
	full     bool
	enqueued []domain.Notification
}

func (d *mockDispatcher) Enqueue(n domain.Notification, _ []domain.NotificationEvent) bool {
	if d.full {
		return false
	}
	d.enqueued = append(d.enqueued, n)
	return true
}
