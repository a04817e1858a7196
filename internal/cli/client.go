// Package cli implements automationctl, a command-line client for the
// automation service control surface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/console-automator/internal/api/dto"
	"github.com/cuongbtq/console-automator/internal/session"
)

// APIError is a non-2xx reply from the service
type APIError struct {
	Code          int
	Message       string
	SessionStatus *session.Status
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client calls the control surface over HTTP
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Submit queues names, one job each
func (c *Client) Submit(ctx context.Context, names []string) (*dto.RunAutomationResponse, error) {
	form := url.Values{"app_names": {strings.Join(names, "\n")}}
	var resp dto.RunAutomationResponse
	err := c.do(ctx, http.MethodPost, "/run_automation", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the queue and worker view
func (c *Client) Status(ctx context.Context) (*dto.AutomationStatusResponse, error) {
	var resp dto.AutomationStatusResponse
	if err := c.do(ctx, http.MethodGet, "/automation_status", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Session fetches the last derived session validity
func (c *Client) Session(ctx context.Context) (*session.Status, error) {
	var resp session.Status
	if err := c.do(ctx, http.MethodGet, "/session_status", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartWorker asks a stopped worker to launch the browser
func (c *Client) StartWorker(ctx context.Context) (*dto.WorkerActionResponse, error) {
	var resp dto.WorkerActionResponse
	if err := c.do(ctx, http.MethodPost, "/worker/start", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearSession deletes the persisted session
func (c *Client) ClearSession(ctx context.Context) (*dto.WorkerActionResponse, error) {
	var resp dto.WorkerActionResponse
	if err := c.do(ctx, http.MethodDelete, "/session", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Code: resp.StatusCode}
		var body struct {
			Message       string          `json:"message"`
			SessionStatus *session.Status `json:"session_status"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Message
			apiErr.SessionStatus = body.SessionStatus
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// IsConflict reports whether err is a 409 from the service
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
