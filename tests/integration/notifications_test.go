//go:build integration

package integration

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/bissquit/event-notifications/internal/notifications"
	"github.com/bissquit/event-notifications/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications_CreateAndPoll(t *testing.T) {
	client := newTestClient(t)

	id := createNotification(t, client, "app-1", map[string]any{
		"create": map[string]any{"id": "42"},
		"update": map[string]any{},
	})
	assert.Equal(t, domain.NotificationStatusOpen, notificationStatus(t, id))

	status, resp := poll(t, client, map[string]any{"maxEvents": 5})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Sets, 1)
	assert.Equal(t, 0, resp.Count)
	assert.False(t, resp.MoreAvailable)

	claims := parseToken(t, resp.Sets[id])
	assert.Equal(t, testTokenIssuer, claims["iss"])
	assert.Equal(t, id, claims["jti"])
	assert.Equal(t, client.ClientID, claims["sub"])
	assert.NotEmpty(t, claims["txn"])

	events, ok := claims["events"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "42"}, events["create"])
	assert.Equal(t, map[string]any{}, events["update"])

	// Polled notifications stay OPEN until acknowledged.
	assert.Equal(t, domain.NotificationStatusOpen, notificationStatus(t, id))
}

func TestNotifications_CreateFromForm(t *testing.T) {
	client := newTestClient(t)

	encoded := base64.StdEncoding.EncodeToString([]byte(`{"delete":{"id":"7"}}`))
	resp, err := client.WithHeader(notifications.ResourceIDHeader, "app-1").
		POSTForm("/api/v1/events", url.Values{"request": {encoded}})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created notifications.CreateEventsResponse
	testutil.DecodeJSON(t, resp, &created)

	status, polled := poll(t, client, map[string]any{})
	require.Equal(t, http.StatusOK, status)

	claims := parseToken(t, polled.Sets[created.NotificationID])
	assert.Contains(t, claims["events"], "delete")
}

func TestNotifications_ScopedToClient(t *testing.T) {
	owner := newTestClient(t)
	other := newTestClient(t)

	createNotification(t, owner, "app-1", map[string]any{"create": map[string]any{}})

	status, resp := poll(t, other, map[string]any{})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, resp.Sets)
	assert.Equal(t, 0, resp.Count)
}

func TestNotifications_Create_BadRequests(t *testing.T) {
	client := newTestClientWithoutValidation(t)

	tests := []struct {
		name       string
		resourceID string
		body       []byte
	}{
		{name: "missing resource id", body: []byte(`{"create":{}}`)},
		{name: "resource id with special characters", resourceID: "app/1", body: []byte(`{"create":{}}`)},
		{name: "invalid json", resourceID: "app-1", body: []byte(`{`)},
		{name: "no events", resourceID: "app-1", body: []byte(`{}`)},
		{name: "not an object", resourceID: "app-1", body: []byte(`["create"]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := client
			if tt.resourceID != "" {
				c = client.WithHeader(notifications.ResourceIDHeader, tt.resourceID)
			}

			resp, err := c.POSTRaw("/api/v1/events", "application/json", tt.body)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestNotifications_MissingClientID(t *testing.T) {
	client := testutil.NewClient(testServer.URL)

	resp, err := client.POST("/api/v1/events/poll", map[string]any{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
