// Package webhook pushes signed notifications to subscriber callback URLs.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ContentType is the media type of a signed notification.
const ContentType = "application/secevent+jwt"

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 1024
)

// Config holds webhook sender configuration.
type Config struct {
	Timeout time.Duration // request timeout
	// RateLimit is the maximum number of requests per second. Zero disables limiting.
	RateLimit float64
}

// Sender posts signed notifications to callback URLs.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new webhook sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: limiter,
	}
}

// Send posts token to callbackURL. The receiver acknowledges with 202 Accepted.
func (s *Sender) Send(ctx context.Context, callbackURL, token string) error {
	if callbackURL == "" {
		return &PermanentError{Message: "callback URL is empty"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return &RetryableError{Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, strings.NewReader(token))
	if err != nil {
		return &PermanentError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, callbackURL)
}

func (s *Sender) handleResponse(resp *http.Response, callbackURL string) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		slog.Debug("webhook notification delivered", "callback", maskURL(callbackURL))
		return nil

	case http.StatusBadRequest:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("rejected: %s", string(body)),
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "not authorized",
		}

	case http.StatusNotFound:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "callback not found",
		}

	case http.StatusTooManyRequests:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	default:
		if resp.StatusCode >= 500 {
			return &RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("server error: %s", string(body)),
			}
		}
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("unexpected status: %s", string(body)),
		}
	}
}

// maskURL hides the path and query of a callback URL for logging.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// PermanentError indicates an error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}

// IsRetryable returns false.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}

// IsRetryable returns true.
func (e *RetryableError) IsRetryable() bool { return true }
