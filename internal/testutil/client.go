// Package testutil provides testing utilities for integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/bissquit/event-notifications/internal/pkg/httputil"
	"github.com/google/uuid"
)

// Client is an HTTP client for testing API endpoints.
// Every request carries ClientID in the X-Client-ID header when set.
type Client struct {
	BaseURL     string
	ClientID    string
	Headers     map[string]string
	HTTPClient  *http.Client
	Validator   *OpenAPIValidator
	ValidateAPI bool
	t           *testing.T
}

// NewClient creates a new test client without validation.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Headers:    map[string]string{},
		HTTPClient: &http.Client{},
	}
}

// NewClientWithValidator creates a new test client with a pre-loaded OpenAPI validator.
// Use this in TestMain where *testing.T is not available during initialization.
func NewClientWithValidator(baseURL string, validator *OpenAPIValidator) *Client {
	return &Client{
		BaseURL:     baseURL,
		Headers:     map[string]string{},
		HTTPClient:  &http.Client{},
		Validator:   validator,
		ValidateAPI: true,
	}
}

// SetT sets the testing.T for validation error reporting.
// This should be called at the beginning of each test when using a shared client.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// WithoutValidation returns a copy of the client with validation disabled.
// Use this for negative tests where you expect invalid responses.
func (c *Client) WithoutValidation() *Client {
	clone := c.clone()
	clone.ValidateAPI = false
	return clone
}

// As returns a copy of the client acting for clientID.
func (c *Client) As(clientID string) *Client {
	clone := c.clone()
	clone.ClientID = clientID
	return clone
}

// WithHeader returns a copy of the client sending an extra header.
func (c *Client) WithHeader(key, value string) *Client {
	clone := c.clone()
	clone.Headers[key] = value
	return clone
}

func (c *Client) clone() *Client {
	clone := *c
	clone.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		clone.Headers[k] = v
	}
	return &clone
}

// GET performs a GET request.
func (c *Client) GET(path string) (*http.Response, error) {
	return c.do(http.MethodGet, path, nil)
}

// POST performs a POST request with JSON body.
func (c *Client) POST(path string, body any) (*http.Response, error) {
	return c.do(http.MethodPost, path, body)
}

// POSTRaw performs a POST request with a pre-encoded body and content type.
func (c *Client) POSTRaw(path, contentType string, body []byte) (*http.Response, error) {
	return c.send(http.MethodPost, path, contentType, body)
}

// POSTForm performs a POST request with a URL-encoded form body.
func (c *Client) POSTForm(path string, form url.Values) (*http.Response, error) {
	return c.send(http.MethodPost, path, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

// PUT performs a PUT request with JSON body.
func (c *Client) PUT(path string, body any) (*http.Response, error) {
	return c.do(http.MethodPut, path, body)
}

// DELETE performs a DELETE request.
func (c *Client) DELETE(path string) (*http.Response, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}
	return c.send(method, path, "application/json", bodyBytes)
}

func (c *Client) send(method, path, contentType string, bodyBytes []byte) (*http.Response, error) {
	req, err := c.newRequest(method, path, contentType, bodyBytes)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	// Validate response against OpenAPI spec if enabled
	if c.ValidateAPI && c.Validator != nil && c.t != nil {
		// Create a new request for validation (original body was consumed)
		validationReq, err := c.newRequest(method, path, contentType, bodyBytes)
		if err != nil {
			return nil, err
		}
		c.Validator.ValidateRequestResponse(c.t, validationReq, resp)
	}

	return resp, nil
}

func (c *Client) newRequest(method, path, contentType string, bodyBytes []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if bodyBytes != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.ClientID != "" {
		req.Header.Set(httputil.ClientIDHeader, c.ClientID)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// DecodeJSON decodes response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody reads and returns response body as string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

// RandomClientID returns a unique client identifier with the given prefix.
// Tests sharing one database use it to keep their notifications apart.
func RandomClientID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
