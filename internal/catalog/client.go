// Package catalog is the client of the remote component catalog. A publish
// is one GraphQL mutation sent over HTTP with a bearer token.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/schema"
	"github.com/conneroisu/blockforge/internal/validation"
	"github.com/conneroisu/blockforge/internal/version"
)

const publishMutation = `mutation PublishResource($input: PublishResourceInput!) {
  publishResource(input: $input) {
    id
    version
    url
  }
}`

// maxResponseBytes bounds how much of a catalog response is read.
const maxResponseBytes = 4 << 20

// Payload is everything the catalog needs to register one resource version.
type Payload struct {
	ResourceType string        `json:"resourceType"`
	Name         string        `json:"name"`
	PackageName  string        `json:"packageName"`
	Version      string        `json:"version"`
	Target       string        `json:"target"`
	WorkspaceID  string        `json:"workspaceId,omitempty"`
	DisplayName  string        `json:"displayName"`
	Description  string        `json:"description,omitempty"`
	Category     string        `json:"category,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	Schema       schema.Schema `json:"schema"`
	Script       string        `json:"script"`
	Stylesheet   string        `json:"stylesheet,omitempty"`
}

// Result identifies the published version.
type Result struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	URL     string `json:"url"`
}

// RemoteError is a rejection reported by the catalog service.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return "catalog rejected publish: " + e.Message
	}
	return fmt.Sprintf("catalog rejected publish (%s): %s", e.Code, e.Message)
}

// Quota reports whether the rejection is a quota or rate limit.
func (e *RemoteError) Quota() bool {
	code := strings.ToUpper(e.Code)
	return strings.Contains(code, "QUOTA") || strings.Contains(code, "LIMIT")
}

// TransportError is a failure to reach the catalog or to read its answer.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("catalog request failed with HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("catalog request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to one catalog endpoint.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     logging.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger.WithComponent("catalog") }
}

// NewClient validates the endpoint and creates a client.
func NewClient(endpoint, token string, opts ...Option) (*Client, error) {
	if err := validation.ValidateURL(endpoint); err != nil {
		return nil, fmt.Errorf("invalid catalog endpoint: %w", err)
	}

	c := &Client{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type publishResponse struct {
	Data *struct {
		PublishResource *Result `json:"publishResource"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Publish sends the payload. Rejections come back as *RemoteError, network
// and server failures as *TransportError.
func (c *Client) Publish(ctx context.Context, p Payload) (*Result, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     publishMutation,
		Variables: map[string]interface{}{"input": p},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug(ctx, "Catalog responded",
		"status", resp.StatusCode,
		"resource", p.ResourceType+"/"+p.Name,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 500 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(data))}
	}

	var decoded publishResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &RemoteError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: snippet(data)}
		}
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response: %w", err)}
	}

	if len(decoded.Errors) > 0 {
		first := decoded.Errors[0]
		return nil, &RemoteError{Code: first.Extensions.Code, Message: first.Message}
	}
	if resp.StatusCode >= 400 {
		return nil, &RemoteError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
	}
	if decoded.Data == nil || decoded.Data.PublishResource == nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("response carried no publish result")}
	}

	return decoded.Data.PublishResource, nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
