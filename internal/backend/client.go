package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err wraps a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func decode(raw json.RawMessage, out any) error {
	return json.Unmarshal(raw, out)
}

// Client talks to the record-oriented backend: filtered list, create,
// partial update, delete, keyed per table. No call spans a transaction;
// multi-record workflows are independent requests.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a backend client.
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// listResponse is the backend's list envelope.
type listResponse struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	Items      []json.RawMessage `json:"items"`
}

// List returns records of a table matching the filter expression. An empty
// filter lists everything. Pages are walked internally.
func (c *Client) List(ctx context.Context, table, filter string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	for pageNum := 1; ; pageNum++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(pageNum))
		q.Set("perPage", "200")
		if filter != "" {
			q.Set("filter", filter)
		}
		var env listResponse
		if err := c.do(ctx, http.MethodGet, c.recordsURL(table)+"?"+q.Encode(), nil, &env); err != nil {
			return nil, err
		}
		items = append(items, env.Items...)
		if len(env.Items) == 0 || len(items) >= env.TotalItems {
			return items, nil
		}
	}
}

// FindOne returns the first record matching the filter, or nil when none
// matches.
func (c *Client) FindOne(ctx context.Context, table, filter string, out any) (bool, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("perPage", "1")
	q.Set("filter", filter)
	var env listResponse
	if err := c.do(ctx, http.MethodGet, c.recordsURL(table)+"?"+q.Encode(), nil, &env); err != nil {
		return false, err
	}
	if len(env.Items) == 0 {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(env.Items[0], out); err != nil {
			return false, fmt.Errorf("decode record: %w", err)
		}
	}
	return true, nil
}

// Create inserts a record and decodes the stored result into out when
// out is non-nil.
func (c *Client) Create(ctx context.Context, table string, record, out any) error {
	return c.do(ctx, http.MethodPost, c.recordsURL(table), record, out)
}

// Update applies a partial update: only the provided fields change.
func (c *Client) Update(ctx context.Context, table, recordID string, fields map[string]any) error {
	return c.do(ctx, http.MethodPatch, c.recordsURL(table)+"/"+recordID, fields, nil)
}

// Delete removes one record.
func (c *Client) Delete(ctx context.Context, table, recordID string) error {
	return c.do(ctx, http.MethodDelete, c.recordsURL(table)+"/"+recordID, nil, nil)
}

// Ping verifies the backend is reachable. Used at boot: a dead backend is a
// fatal initialization failure, not something to limp past silently.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/api/health", nil, nil)
}

// RealtimeURL returns the SSE change-feed endpoint for a table.
func (c *Client) RealtimeURL(table string) string {
	return c.baseURL + "/api/realtime?subscription=" + url.QueryEscape(table)
}

// Token returns the auth token, for the realtime subscriber.
func (c *Client) Token() string { return c.token }

// HTTPClient exposes the underlying client, for the realtime subscriber.
func (c *Client) HTTPClient() *http.Client { return c.http }

func (c *Client) recordsURL(table string) string {
	return c.baseURL + "/api/collections/" + url.PathEscape(table) + "/records"
}

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
