// internal/admin/client.go
package admin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to one executor's task API. It is read-mostly; the only
// mutations it performs are the documented pause, resume and cancel calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("admin_client"),
	}
}

// BaseURL identifies the executor this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks the executor's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", &struct {
		Status string `json:"status"`
	}{})
}

// ListTasks fetches every task the executor knows about.
func (c *Client) ListTasks(ctx context.Context) ([]schemas.Task, error) {
	var resp struct {
		Tasks []schemas.Task `json:"tasks"`
	}
	if err := c.get(ctx, "/tasks", &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// TaskStatus fetches one task's live status projection.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (schemas.ExecutorStatus, error) {
	var status schemas.ExecutorStatus
	if err := c.get(ctx, "/tasks/"+taskID+"/status", &status); err != nil {
		return schemas.ExecutorStatus{}, err
	}
	return status, nil
}

// Pause asks the executor to queue an operator hand-off for the task.
func (c *Client) Pause(ctx context.Context, taskID, reason, instructions string) error {
	payload := map[string]string{"reason": reason, "instructions": instructions}
	return c.post(ctx, "/tasks/"+taskID+"/pause", payload)
}

// Resume delivers the finish signal for a task waiting on a user.
func (c *Client) Resume(ctx context.Context, taskID string) error {
	return c.post(ctx, "/tasks/"+taskID+"/resume", nil)
}

// Cancel aborts a task.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	return c.post(ctx, "/tasks/"+taskID+"/cancel", nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executor %s unreachable: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", c.baseURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("executor %s returned %d for %s: %s",
			c.baseURL, resp.StatusCode, req.URL.Path, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", c.baseURL, err)
	}
	return nil
}
