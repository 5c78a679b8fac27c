package httputil

import (
	"context"
	"net/http"
	"strings"

	"github.com/bissquit/event-notifications/internal/pkg/ctxlog"
)

// ClientIDHeader identifies the client application a request acts for.
// It is set by the API gateway in front of the service.
const ClientIDHeader = "X-Client-ID"

type contextKey string

// ClientIDKey is the context key of the calling client ID.
const ClientIDKey contextKey = "client_id"

// ClientIDMiddleware rejects requests without a client ID header and stores
// the client ID in the request context and its logger.
func ClientIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := strings.TrimSpace(r.Header.Get(ClientIDHeader))
		if clientID == "" {
			Error(w, http.StatusUnauthorized, "missing "+ClientIDHeader+" header")
			return
		}

		ctx := WithClientID(r.Context(), clientID)
		ctx = ctxlog.With(ctx, "client_id", clientID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientID extracts the client ID from context.
func GetClientID(ctx context.Context) string {
	if id, ok := ctx.Value(ClientIDKey).(string); ok {
		return id
	}
	return ""
}

// WithClientID returns a context carrying clientID.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}
