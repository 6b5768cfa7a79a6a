package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is an HTTP JSON Backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Backend = (*Client)(nil)

type ClientOption func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the backend rooted at baseURL.
// A zero timeout means 30 seconds.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.post(ctx, "/execute", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("submit rejected: %s", orUnknown(resp.Error))
	}
	if resp.ExecutionID == "" {
		return nil, fmt.Errorf("submit response has no execution id")
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context, executionID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.post(ctx, "/status", StatusRequest{ExecutionID: executionID}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("status rejected: %s", orUnknown(resp.Error))
	}
	return &resp, nil
}

func (c *Client) Cancel(ctx context.Context, executionID string) error {
	var resp CancelResponse
	if err := c.post(ctx, "/cancel", CancelRequest{ExecutionID: executionID}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("cancel rejected: %s", orUnknown(resp.Error))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	// Error bodies may still carry {success:false,error}; prefer that message.
	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("backend %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
