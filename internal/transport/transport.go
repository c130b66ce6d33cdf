// Package transport issues authenticated requests against the backend,
// trying each endpoint candidate in order until one answers conclusively.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"CompassChat/internal/endpoint"

	"go.opentelemetry.io/otel/metric"
)

// ErrUnreachable is returned when every endpoint candidate failed at the
// network level.
var ErrUnreachable = errors.New("backend unreachable")

// APIError is a non-2xx response from the backend, with the decoded detail
// when the body carried one.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Detail)
}

// CandidateSource yields the ordered candidate URLs for a logical path.
// endpoint.Resolver is the production implementation.
type CandidateSource interface {
	Candidates(path string) []endpoint.Candidate
}

// Client wraps an HTTP client with candidate fallback and bearer credential
// attachment.
type Client struct {
	resolver   CandidateSource
	httpClient *http.Client
	token      func() string
	logger     *slog.Logger
	duration   metric.Float64Histogram
}

// New creates a transport client. token is consulted per request so a
// renewed credential is picked up without reconstruction; it may return ""
// for anonymous access. meter may be nil.
func New(resolver CandidateSource, token func() string, logger *slog.Logger, meter metric.Meter) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	c := &Client{
		resolver: resolver,
		// No overall timeout: streaming replies hold the connection open
		// for as long as the assistant is generating.
		httpClient: &http.Client{},
		token:      token,
		logger:     logger,
	}
	if meter != nil {
		var err error
		c.duration, err = meter.Float64Histogram(
			"http.client.request.duration",
			metric.WithDescription("HTTP request duration in milliseconds"),
		)
		if err != nil {
			logger.Warn("failed to create duration histogram", "error", err)
		}
	}
	return c
}

// Call issues the request against each candidate in order. It advances to
// the next candidate only on a network-level error, or when a same-origin
// candidate answers 404/405 with candidates remaining: "not found on the
// proxy" is inconclusive, while any other status from any origin is the
// backend's answer and is returned as-is. The caller owns the response body.
func (c *Client) Call(ctx context.Context, method, path string, body []byte, stream bool) (*http.Response, error) {
	candidates := c.resolver.Candidates(path)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no endpoint candidates for %s", ErrUnreachable, path)
	}

	start := time.Now()
	var lastErr error
	for i, cand := range candidates {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, cand.URL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if stream {
			req.Header.Set("Accept", "text/event-stream")
		}
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("endpoint candidate failed", "url", cand.URL, "error", err)
			lastErr = err
			continue
		}

		inconclusive := cand.Relative &&
			(resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed) &&
			i < len(candidates)-1
		if inconclusive {
			c.logger.Debug("candidate inconclusive, trying next", "url", cand.URL, "status", resp.StatusCode)
			resp.Body.Close()
			continue
		}

		c.recordDuration(ctx, time.Since(start))
		return resp, nil
	}

	c.recordDuration(ctx, time.Since(start))
	c.logger.Error("all endpoint candidates failed", "path", path, "error", lastErr)
	return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

// recordDuration records the request duration histogram
func (c *Client) recordDuration(ctx context.Context, d time.Duration) {
	if c.duration != nil {
		c.duration.Record(ctx, float64(d.Milliseconds()))
	}
}

// GetJSON issues a GET and decodes a 2xx body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.roundTripJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes a 2xx body into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.roundTripJSON(ctx, http.MethodPost, path, in, out)
}

// PatchJSON issues a PATCH with a JSON body and decodes a 2xx body into out.
func (c *Client) PatchJSON(ctx context.Context, path string, in, out any) error {
	return c.roundTripJSON(ctx, http.MethodPatch, path, in, out)
}

// Stream issues a POST declaring acceptance of an event-stream response.
// The caller owns the response, including status inspection.
func (c *Client) Stream(ctx context.Context, path string, in any) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.Call(ctx, http.MethodPost, path, body, true)
}

func (c *Client) roundTripJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := c.Call(ctx, method, path, body, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return DecodeError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// DecodeError turns a non-2xx response into an *APIError, pulling the
// backend's {"detail": ...} message when the body has one.
func DecodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return apiErr
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		apiErr.Detail = payload.Detail
	}
	return apiErr
}
