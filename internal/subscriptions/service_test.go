package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newTestService() (*Service, *mockRepository) {
	repo := newMockRepository()
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc, repo
}

func createTestSubscription(t *testing.T, svc *Service, clientID string, eventTypes ...string) *domain.EventSubscription {
	t.Helper()

	sub, err := svc.CreateSubscription(context.Background(), CreateSubscriptionInput{
		ClientID:    clientID,
		CallbackURL: strPtr("https://client.example.com/events"),
		SpecVersion: strPtr("1.0"),
		EventTypes:  eventTypes,
		RequestData: json.RawMessage(`{"callbackUrl":"https://client.example.com/events","version":"1.0","format":"jwt"}`),
	})
	require.NoError(t, err)
	return sub
}

func TestService_CreateSubscription(t *testing.T) {
	svc, repo := newTestService()

	sub := createTestSubscription(t, svc, "client-a", " urn:event:create ", "urn:event:update", "urn:event:create", "")

	_, err := uuid.Parse(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "client-a", sub.ClientID)
	assert.Equal(t, domain.SubscriptionStatusCreated, sub.Status)
	assert.Equal(t, int64(1700000000), sub.Timestamp)
	assert.Equal(t, []string{"urn:event:create", "urn:event:update"}, sub.EventTypes)

	stored, err := svc.GetSubscription(context.Background(), "client-a", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.EventTypes, stored.EventTypes)
	assert.Equal(t, "https://client.example.com/events", *stored.CallbackURL)
	assert.JSONEq(t, `{"callbackUrl":"https://client.example.com/events","version":"1.0","format":"jwt"}`, string(stored.RequestData))
	assert.Equal(t, 2, repo.commits)
}

func TestService_CreateSubscription_EmptyRequestData(t *testing.T) {
	svc, _ := newTestService()

	sub, err := svc.CreateSubscription(context.Background(), CreateSubscriptionInput{ClientID: "client-a"})

	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(sub.RequestData))
	assert.Empty(t, sub.EventTypes)
}

func TestService_CreateSubscription_Invalid(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.CreateSubscription(context.Background(), CreateSubscriptionInput{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateSubscription(context.Background(), CreateSubscriptionInput{
		ClientID:    "client-a",
		RequestData: json.RawMessage(`["not","an","object"]`),
	})
	assert.ErrorIs(t, err, ErrSubscriptionData)

	assert.Empty(t, repo.subs)
}

func TestService_CreateSubscription_EventTypeFailureRollsBack(t *testing.T) {
	svc, repo := newTestService()
	repo.replaceErr = errors.New("constraint violation")

	_, err := svc.CreateSubscription(context.Background(), CreateSubscriptionInput{
		ClientID:   "client-a",
		EventTypes: []string{"create"},
	})

	require.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, repo.subs)
	assert.Equal(t, 1, repo.rollbacks)
}

func TestService_EventTypesAreNFCNormalized(t *testing.T) {
	svc, _ := newTestService()

	sub := createTestSubscription(t, svc, "client-a", "cafe\u0301")
	assert.Equal(t, []string{"caf\u00e9"}, sub.EventTypes)

	subs, err := svc.ListSubscriptionsByEventType(context.Background(), "client-a", "cafe\u0301")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)
}

func TestService_GetSubscription_NotFound(t *testing.T) {
	svc, _ := newTestService()
	sub := createTestSubscription(t, svc, "client-a")

	tests := []struct {
		name     string
		clientID string
		id       string
	}{
		{name: "unknown id", clientID: "client-a", id: uuid.NewString()},
		{name: "invalid id", clientID: "client-a", id: "not-a-uuid"},
		{name: "other client", clientID: "client-b", id: sub.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetSubscription(context.Background(), tt.clientID, tt.id)
			assert.ErrorIs(t, err, ErrSubscriptionNotFound)
		})
	}
}

func TestService_ListSubscriptions(t *testing.T) {
	svc, _ := newTestService()
	first := createTestSubscription(t, svc, "client-a", "create")
	second := createTestSubscription(t, svc, "client-a", "update", "create")
	createTestSubscription(t, svc, "client-b", "create")

	subs, err := svc.ListSubscriptions(context.Background(), "client-a")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, first.ID, subs[0].ID)
	assert.Equal(t, second.ID, subs[1].ID)

	subs, err = svc.ListSubscriptionsByEventType(context.Background(), "client-a", "update")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, second.ID, subs[0].ID)

	subs, err = svc.ListSubscriptions(context.Background(), "client-c")
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)

	_, err = svc.ListSubscriptionsByEventType(context.Background(), "client-a", "  ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_UpdateSubscription_MergesKnownKeys(t *testing.T) {
	svc, _ := newTestService()
	sub := createTestSubscription(t, svc, "client-a", "create", "update")
	svc.now = func() time.Time { return time.Unix(1700000500, 0) }

	updated, err := svc.UpdateSubscription(context.Background(), UpdateSubscriptionInput{
		ID:          sub.ID,
		ClientID:    "client-a",
		CallbackURL: strPtr("https://client.example.com/v2"),
		RequestData: json.RawMessage(`{"callbackUrl":"https://client.example.com/v2","format":"json","extra":true}`),
	})
	require.NoError(t, err)
	require.True(t, updated)

	stored, err := svc.GetSubscription(context.Background(), "client-a", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://client.example.com/v2", *stored.CallbackURL)
	assert.Equal(t, int64(1700000500), stored.Timestamp)
	assert.JSONEq(t, `{"callbackUrl":"https://client.example.com/v2","version":"1.0","format":"json"}`, string(stored.RequestData))
	assert.Equal(t, []string{"create", "update"}, stored.EventTypes, "empty event types keep stored ones")
}

func TestService_UpdateSubscription_ReplacesEventTypes(t *testing.T) {
	svc, _ := newTestService()
	sub := createTestSubscription(t, svc, "client-a", "create", "update")

	updated, err := svc.UpdateSubscription(context.Background(), UpdateSubscriptionInput{
		ID:         sub.ID,
		ClientID:   "client-a",
		EventTypes: []string{"delete"},
	})
	require.NoError(t, err)
	require.True(t, updated)

	stored, err := svc.GetSubscription(context.Background(), "client-a", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"delete"}, stored.EventTypes)
	assert.Equal(t, "https://client.example.com/events", *stored.CallbackURL, "callback kept when not provided")
}

func TestService_UpdateSubscription_NotUpdated(t *testing.T) {
	svc, _ := newTestService()
	sub := createTestSubscription(t, svc, "client-a", "create")

	tests := []struct {
		name  string
		input UpdateSubscriptionInput
	}{
		{name: "invalid id", input: UpdateSubscriptionInput{ID: "nope", ClientID: "client-a"}},
		{name: "unknown id", input: UpdateSubscriptionInput{ID: uuid.NewString(), ClientID: "client-a"}},
		{name: "other client", input: UpdateSubscriptionInput{ID: sub.ID, ClientID: "client-b", EventTypes: []string{"x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated, err := svc.UpdateSubscription(context.Background(), tt.input)
			require.NoError(t, err)
			assert.False(t, updated)
		})
	}

	stored, err := svc.GetSubscription(context.Background(), "client-a", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"create"}, stored.EventTypes)
}

func TestService_UpdateSubscription_InvalidData(t *testing.T) {
	svc, _ := newTestService()
	sub := createTestSubscription(t, svc, "client-a", "create")

	_, err := svc.UpdateSubscription(context.Background(), UpdateSubscriptionInput{
		ID:          sub.ID,
		ClientID:    "client-a",
		RequestData: json.RawMessage(`{`),
	})

	assert.ErrorIs(t, err, ErrSubscriptionData)
}

func TestService_DeleteSubscription(t *testing.T) {
	svc, _ := newTestService()
	sub := createTestSubscription(t, svc, "client-a", "create")

	deleted, err := svc.DeleteSubscription(context.Background(), "client-b", sub.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = svc.DeleteSubscription(context.Background(), "client-a", sub.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = svc.GetSubscription(context.Background(), "client-a", sub.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	deleted, err = svc.DeleteSubscription(context.Background(), "client-a", sub.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = svc.DeleteSubscription(context.Background(), "client-a", "not-a-uuid")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestService_ResolveCallbackURL(t *testing.T) {
	svc, _ := newTestService()

	url, err := svc.ResolveCallbackURL(context.Background(), "client-a")
	require.NoError(t, err)
	assert.Empty(t, url)

	_, err = svc.CreateSubscription(context.Background(), CreateSubscriptionInput{ClientID: "client-a"})
	require.NoError(t, err)
	createTestSubscription(t, svc, "client-a", "create")

	url, err = svc.ResolveCallbackURL(context.Background(), "client-a")
	require.NoError(t, err)
	assert.Equal(t, "https://client.example.com/events", url)
}
