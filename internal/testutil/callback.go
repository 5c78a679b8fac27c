package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// ReceivedCallback is a request captured by CallbackReceiver.
type ReceivedCallback struct {
	ContentType string
	Token       string
}

// CallbackReceiver is a webhook endpoint that records delivered tokens.
// It answers with Status, 202 Accepted unless changed.
type CallbackReceiver struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	received []ReceivedCallback
}

// NewCallbackReceiver starts a receiver. Call Close when done.
func NewCallbackReceiver() *CallbackReceiver {
	c := &CallbackReceiver{status: http.StatusAccepted}
	c.Server = httptest.NewServer(http.HandlerFunc(c.handle))
	return c
}

func (c *CallbackReceiver) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	c.received = append(c.received, ReceivedCallback{
		ContentType: r.Header.Get("Content-Type"),
		Token:       string(body),
	})
	status := c.status
	c.mu.Unlock()

	w.WriteHeader(status)
}

// SetStatus changes the status code returned to subsequent deliveries.
func (c *CallbackReceiver) SetStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// Received returns a copy of the captured callbacks.
func (c *CallbackReceiver) Received() []ReceivedCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ReceivedCallback(nil), c.received...)
}
