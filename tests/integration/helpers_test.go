//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/bissquit/event-notifications/internal/notifications"
	"github.com/bissquit/event-notifications/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// createNotification posts events for resourceID and returns the notification ID.
func createNotification(t *testing.T, client *testutil.Client, resourceID string, events map[string]any) string {
	t.Helper()

	resp, err := client.WithHeader(notifications.ResourceIDHeader, resourceID).
		POST("/api/v1/events", events)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result notifications.CreateEventsResponse
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.NotificationID)
	return result.NotificationID
}

// poll performs an aggregated polling call and returns the status code and body.
func poll(t *testing.T, client *testutil.Client, body map[string]any) (int, notifications.PollEventsResponse) {
	t.Helper()

	resp, err := client.POST("/api/v1/events/poll", body)
	require.NoError(t, err)

	var result notifications.PollEventsResponse
	testutil.DecodeJSON(t, resp, &result)
	return resp.StatusCode, result
}

// parseToken verifies a delivered token with the test secret and returns its claims.
func parseToken(t *testing.T, token string) jwt.MapClaims {
	t.Helper()

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(testSecretKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	return claims
}

// notificationStatus reads the stored status of a notification.
func notificationStatus(t *testing.T, id string) domain.NotificationStatus {
	t.Helper()

	var status domain.NotificationStatus
	err := testDB.QueryRow(context.Background(),
		`SELECT status FROM notifications WHERE notification_id = $1`, id,
	).Scan(&status)
	require.NoError(t, err)
	return status
}

// storedErrorCodes returns error codes reported for a notification in insertion order.
func storedErrorCodes(t *testing.T, id string) []string {
	t.Helper()

	rows, err := testDB.Query(context.Background(),
		`SELECT error_code FROM notification_errors WHERE notification_id = $1 ORDER BY id`, id,
	)
	require.NoError(t, err)
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		require.NoError(t, rows.Scan(&code))
		codes = append(codes, code)
	}
	require.NoError(t, rows.Err())
	return codes
}

type subscriptionEnvelope struct {
	Data domain.EventSubscription `json:"data"`
}

type subscriptionListEnvelope struct {
	Data []domain.EventSubscription `json:"data"`
}

// createSubscription creates a subscription and deletes it on cleanup.
func createSubscription(t *testing.T, client *testutil.Client, body map[string]any) domain.EventSubscription {
	t.Helper()

	resp, err := client.POST("/api/v1/subscriptions", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result subscriptionEnvelope
	testutil.DecodeJSON(t, resp, &result)

	t.Cleanup(func() {
		resp, err := client.WithoutValidation().DELETE("/api/v1/subscriptions/" + result.Data.ID)
		if err == nil {
			_ = resp.Body.Close()
		}
	})
	return result.Data
}
