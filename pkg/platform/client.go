// Package platform is the HTTP client for the remote deployment platform.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nais/deploywatch/pkg/version"
)

const (
	DefaultURL = "https://api.vercel.com"

	HeaderCorrelationID = "X-Correlation-ID"
)

type Client struct {
	baseURL       string
	token         string
	team          string
	correlationID string
	httpClient    *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client. Its transport is wrapped for tracing.
// The client must not have a timeout, or followed event streams will be cut off.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h == nil {
			return
		}
		transport := h.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		wrapped := *h
		wrapped.Transport = otelhttp.NewTransport(transport)
		c.httpClient = &wrapped
	}
}

// WithTeam scopes every request to the given team.
func WithTeam(team string) Option {
	return func(c *Client) {
		c.team = team
	}
}

// WithCorrelationID sets the ID sent with every request. A random one is used otherwise.
func WithCorrelationID(id string) Option {
	return func(c *Client) {
		if len(id) > 0 {
			c.correlationID = id
		}
	}
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if len(trimmed) == 0 {
		trimmed = DefaultURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}

	c := &Client{
		baseURL:       strings.TrimRight(trimmed, "/"),
		token:         token,
		correlationID: uuid.New().String(),
		httpClient:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) CorrelationID() string {
	return c.correlationID
}

// APIError is an error response from the platform.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if len(e.Message) == 0 {
		return fmt.Sprintf("platform request failed with status %d", e.Status)
	}
	if len(e.Code) > 0 {
		return fmt.Sprintf("platform request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("platform request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if len(c.team) > 0 {
		query.Set("teamId", c.team)
	}
	if len(query) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + query.Encode()
}

// request performs an HTTP call and returns the response when the status is below 400.
// The caller must close the response body.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "deploywatch/"+version.Version())
	req.Header.Set(HeaderCorrelationID, c.correlationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(c.token) > 0 {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log.WithField("correlation_id", c.correlationID).Tracef("%s %s", method, req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, extractError(resp)
	}

	return resp, nil
}

func extractError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Error.Message) == 0 {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}

	apiErr.Code = payload.Error.Code
	apiErr.Message = payload.Error.Message
	return apiErr
}
