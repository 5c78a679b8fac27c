package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/bissquit/event-notifications/internal/pkg/httputil"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// maxReportedBody bounds how much of a response body a validation failure prints.
const maxReportedBody = 300

// OpenAPIValidator checks API traffic against the OpenAPI document.
type OpenAPIValidator struct {
	router routers.Router
}

// LoadOpenAPIValidator loads and validates the OpenAPI document at specPath.
// It needs no *testing.T so TestMain can share one validator between tests.
func LoadOpenAPIValidator(specPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI document %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create OpenAPI router: %w", err)
	}

	return &OpenAPIValidator{router: router}, nil
}

// probes answer with plain text outside the API contract.
func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// ValidateRequestResponse reports every contract violation of req and resp as
// a test error. The response body is restored for the caller.
func (v *OpenAPIValidator) ValidateRequestResponse(t *testing.T, req *http.Request, resp *http.Response) {
	t.Helper()

	if isProbe(req.URL.Path) {
		return
	}

	input, err := v.requestInput(req)
	if err != nil {
		t.Errorf("OpenAPI: %v", err)
		return
	}

	ctx := context.Background()
	if err := openapi3filter.ValidateRequest(ctx, input); err != nil {
		t.Errorf("OpenAPI request %s %s (client %q) violates the contract: %v",
			req.Method, req.URL.Path, req.Header.Get(httputil.ClientIDHeader), err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Errorf("read response body: %v", err)
		return
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	err = openapi3filter.ValidateResponse(ctx, &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 resp.StatusCode,
		Header:                 resp.Header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	})
	if err != nil {
		t.Errorf("OpenAPI response %s %s (status %d) violates the contract: %v\nbody: %s",
			req.Method, req.URL.Path, resp.StatusCode, err, excerpt(body))
	}
}

func (v *OpenAPIValidator) requestInput(req *http.Request) (*openapi3filter.RequestValidationInput, error) {
	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return nil, fmt.Errorf("no route for %s %s: %w", req.Method, req.URL.Path, err)
	}

	return &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    &openapi3filter.Options{MultiError: true},
	}, nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxReportedBody {
		return s[:maxReportedBody] + "..."
	}
	return s
}
