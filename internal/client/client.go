// Package client provides an HTTP client for the memory server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/memu-go/internal/metrics"
	"github.com/raphaelgruber/memu-go/internal/models"
)

// Client talks to the memory server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client for the server at endpoint.
// If endpoint is empty, uses MEMU_API_URL or defaults to localhost:8000.
// Timeout can be configured via MEMU_CLIENT_TIMEOUT (default 5m, memorize waits on model calls).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("MEMU_API_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8000"
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("MEMU_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (status %d): %s", e.Status, e.Detail)
}

type envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Detail string          `json:"detail"`
}

// do sends body (if non-nil) as JSON and decodes the "result" of the
// success envelope into result.
func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &env) == nil && env.Detail != "" {
			detail = env.Detail
		}
		return &APIError{Status: resp.StatusCode, Detail: detail}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

// Memorize stores a conversation and returns the extraction outcome.
func (c *Client) Memorize(ctx context.Context, rec *models.ConversationRecord) (*models.MemorizeResult, error) {
	var result models.MemorizeResult
	if err := c.do(ctx, http.MethodPost, "/memorize", rec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type retrieveRequest struct {
	Query []string      `json:"query"`
	Where *models.Scope `json:"where,omitempty"`
	Limit int           `json:"limit,omitempty"`
}

// Retrieve returns memory matching queries. An empty userID searches all owners.
func (c *Client) Retrieve(ctx context.Context, queries []string, userID string, limit int) (*models.RetrievalResult, error) {
	req := retrieveRequest{Query: queries, Limit: limit}
	if userID != "" {
		req.Where = &models.Scope{UserID: userID}
	}
	var result models.RetrievalResult
	if err := c.do(ctx, http.MethodPost, "/retrieve", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Conversation fetches a stored conversation.
func (c *Client) Conversation(ctx context.Context, id string) (*models.ConversationRecord, error) {
	var rec models.ConversationRecord
	if err := c.do(ctx, http.MethodGet, "/conversations/"+id, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Stats returns the server's operation statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}
	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &snap, nil
}

// Health returns nil when the server answers /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Detail: resp.Status}
	}
	return nil
}
