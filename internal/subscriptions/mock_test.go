package subscriptions

import (
	"context"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/jackc/pgx/v5"
)

type mockTx struct {
	pgx.Tx
	repo          *mockRepository
	snapshot      map[string]domain.EventSubscription
	snapshotOrder []string
	closed        bool
}

func (t *mockTx) Commit(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.repo.commits++
	return nil
}

func (t *mockTx) Rollback(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.repo.subs = t.snapshot
	t.repo.order = t.snapshotOrder
	t.repo.rollbacks++
	return nil
}

type mockRepository struct {
	subs  map[string]domain.EventSubscription
	order []string

	replaceErr error

	commits   int
	rollbacks int
}

func newMockRepository() *mockRepository {
	return &mockRepository{subs: make(map[string]domain.EventSubscription)}
}

func cloneSubscription(s domain.EventSubscription) domain.EventSubscription {
	s.EventTypes = append([]string{}, s.EventTypes...)
	s.RequestData = append([]byte(nil), s.RequestData...)
	return s
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	snapshot := make(map[string]domain.EventSubscription, len(m.subs))
	for k, v := range m.subs {
		snapshot[k] = cloneSubscription(v)
	}
	return &mockTx{repo: m, snapshot: snapshot, snapshotOrder: append([]string(nil), m.order...)}, nil
}

func (m *mockRepository) CreateSubscriptionTx(_ context.Context, _ pgx.Tx, sub *domain.EventSubscription) error {
	stored := cloneSubscription(*sub)
	stored.EventTypes = []string{}
	m.subs[sub.ID] = stored
	m.order = append(m.order, sub.ID)
	return nil
}

func (m *mockRepository) GetSubscriptionTx(_ context.Context, _ pgx.Tx, clientID, id string) (*domain.EventSubscription, error) {
	sub, ok := m.subs[id]
	if !ok || sub.ClientID != clientID {
		return nil, ErrSubscriptionNotFound
	}
	c := cloneSubscription(sub)
	return &c, nil
}

func (m *mockRepository) ListByClientTx(_ context.Context, _ pgx.Tx, clientID string) ([]domain.EventSubscription, error) {
	result := make([]domain.EventSubscription, 0)
	for _, id := range m.order {
		if sub := m.subs[id]; sub.ClientID == clientID {
			result = append(result, cloneSubscription(sub))
		}
	}
	return result, nil
}

func (m *mockRepository) ListByEventTypeTx(ctx context.Context, tx pgx.Tx, clientID, eventType string) ([]domain.EventSubscription, error) {
	all, _ := m.ListByClientTx(ctx, tx, clientID)
	result := make([]domain.EventSubscription, 0)
	for _, sub := range all {
		for _, t := range sub.EventTypes {
			if t == eventType {
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (m *mockRepository) UpdateSubscriptionTx(_ context.Context, _ pgx.Tx, sub *domain.EventSubscription) (bool, error) {
	stored, ok := m.subs[sub.ID]
	if !ok || stored.ClientID != sub.ClientID {
		return false, nil
	}
	stored.CallbackURL = sub.CallbackURL
	stored.Timestamp = sub.Timestamp
	stored.RequestData = append([]byte(nil), sub.RequestData...)
	m.subs[sub.ID] = stored
	return true, nil
}

func (m *mockRepository) ReplaceEventTypesTx(_ context.Context, _ pgx.Tx, id string, eventTypes []string) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	stored := m.subs[id]
	stored.EventTypes = append([]string{}, eventTypes...)
	m.subs[id] = stored
	return nil
}

func (m *mockRepository) DeleteSubscriptionTx(_ context.Context, _ pgx.Tx, clientID, id string) (bool, error) {
	stored, ok := m.subs[id]
	if !ok || stored.ClientID != clientID {
		return false, nil
	}
	delete(m.subs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}
