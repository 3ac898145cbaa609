// Package client provides an HTTP client for the askdb server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/askdb/internal/metrics"
	"github.com/raphaelgruber/askdb/internal/pipeline"
)

// DefaultServerURL is used when no base URL is given.
const DefaultServerURL = "http://localhost:8000"

// ErrUnavailable is returned by Health when the server reports its database down.
var ErrUnavailable = errors.New("server unavailable")

// Client talks to the askdb REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL. A zero timeout means 5 minutes, enough
// for a full pipeline run with three model calls.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Response is an /ask result with the HTTP status it came with.
type Response struct {
	pipeline.Result
	StatusCode int    `json:"-"`
	RequestID  string `json:"-"`
}

// Ask posts question to /ask. Pipeline failures are not errors: they come
// back as a Response whose ErrorKind is set. An error means the request
// itself failed or the reply was not a pipeline result.
func (c *Client) Ask(ctx context.Context, question string) (*Response, error) {
	reqBody, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	out := &Response{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
	if err := json.Unmarshal(body, &out.Result); err != nil {
		return nil, fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return out, nil
}

// Health reports whether the server and its database are up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, body, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s - %s", ErrUnavailable, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// Stats fetches the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", nil)
	if err != nil {
		return snap, fmt.Errorf("create request: %w", err)
	}
	resp, body, err := c.do(req)
	if err != nil {
		return snap, err
	}
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("unmarshal response: %w", err)
	}
	return snap, nil
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}
