package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/glimpse/pkg/analytics"
	"github.com/platinummonkey/glimpse/pkg/api"
	"github.com/platinummonkey/glimpse/pkg/httputil"
	"github.com/platinummonkey/glimpse/pkg/session"
)

// ErrNotFound is returned when the agent answers 404.
var ErrNotFound = errors.New("not found")

// CaptureResult is the agent's answer to a capture request.
type CaptureResult struct {
	Suppressed bool
	Record     json.RawMessage
	Warning    string
}

// Client talks to the agent's host API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient creates a client for the agent at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Metrics fetches the derived metrics, recomputing first when refresh is set.
func (c *Client) Metrics(ctx context.Context, refresh bool) (analytics.Metrics, error) {
	var m analytics.Metrics
	if refresh {
		_, err := c.do(ctx, http.MethodPost, "/v1/metrics/refresh", nil, &m)
		return m, err
	}
	_, err := c.do(ctx, http.MethodGet, "/v1/metrics", nil, &m)
	return m, err
}

// Consent fetches the current consent status.
func (c *Client) Consent(ctx context.Context) (api.ConsentStatus, error) {
	var s api.ConsentStatus
	_, err := c.do(ctx, http.MethodGet, "/v1/consent", nil, &s)
	return s, err
}

// SetConsent records a consent decision.
func (c *Client) SetConsent(ctx context.Context, req api.ConsentRequest) (api.ConsentResponse, error) {
	var resp api.ConsentResponse
	_, err := c.do(ctx, http.MethodPut, "/v1/consent", req, &resp)
	return resp, err
}

// TrackPageView captures a page view.
func (c *Client) TrackPageView(ctx context.Context, req api.TrackPageViewRequest) (CaptureResult, error) {
	return c.capture(ctx, "/v1/pageviews", req)
}

// TrackEvent captures a custom event.
func (c *Client) TrackEvent(ctx context.Context, req api.TrackEventRequest) (CaptureResult, error) {
	return c.capture(ctx, "/v1/events", req)
}

func (c *Client) capture(ctx context.Context, path string, body interface{}) (CaptureResult, error) {
	var raw struct {
		Suppressed bool            `json:"suppressed"`
		Record     json.RawMessage `json:"record"`
		Warning    string          `json:"warning"`
	}
	if _, err := c.do(ctx, http.MethodPost, path, body, &raw); err != nil {
		return CaptureResult{}, err
	}
	return CaptureResult{Suppressed: raw.Suppressed, Record: raw.Record, Warning: raw.Warning}, nil
}

// Navigate drives the agent's history.
func (c *Client) Navigate(ctx context.Context, req api.NavigationRequest) (api.NavigationResponse, error) {
	var resp api.NavigationResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/navigation", req, &resp)
	return resp, err
}

// Session returns the live session summary, or nil when none has started.
func (c *Client) Session(ctx context.Context) (*session.Summary, error) {
	var s session.Summary
	if _, err := c.do(ctx, http.MethodGet, "/v1/session", nil, &s); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Export downloads every stored record in the given format.
func (c *Client) Export(ctx context.Context, format string) ([]byte, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	return c.do(ctx, http.MethodGet, "/v1/export?"+q.Encode(), nil, nil)
}

// Erase clears all stored analytics data.
func (c *Client) Erase(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/data", nil, nil)
	return err
}

// do sends the request and decodes a JSON answer into out when set. The raw
// body is returned for callers that want it as is.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.WithFields(logrus.Fields{"method": method, "path": path}).Debug("calling agent")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.WithField("status", resp.StatusCode).Debug("agent responded")

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(data))
		var e httputil.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return nil, fmt.Errorf("agent returned %s: %s", resp.Status, msg)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return data, nil
}
