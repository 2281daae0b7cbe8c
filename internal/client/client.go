// Package client talks to a running feedcache server: it pages through feeds and
// triggers admin refreshes.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"reddot-watch/feedcache/internal/admin"
	"reddot-watch/feedcache/internal/feed"
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// NoTimeout leaves requests bounded only by the caller's context. Sweeps use it
// since their duration grows with the user population.
const NoTimeout time.Duration = -1

// StatusError is returned for any non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned non-200 status: %d - Body: %s", e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// APIKey is sent as X-API-Key; admin routes require it when the server has one.
	APIKey string
	// Timeout bounds each request. Zero means DefaultTimeout, NoTimeout disables it.
	Timeout time.Duration

	HTTPClient *http.Client
}

// Client is a remote feed.Pager and admin trigger.
type Client struct {
	base    *url.URL
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

var _ feed.Pager = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base API URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base API URL %q: scheme and host are required", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	switch {
	case timeout == 0:
		timeout = DefaultTimeout
	case timeout < 0:
		timeout = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, apiKey: cfg.APIKey, timeout: timeout, http: httpClient}, nil
}

// FetchPage requests one page of the user's feed.
func (c *Client) FetchPage(ctx context.Context, req feed.Request) (*feed.Page, error) {
	if req.UserID == "" {
		return nil, feed.ErrMissingUser
	}
	query := url.Values{}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}
	if req.Filters.Language != "" {
		query.Set("language", req.Filters.Language)
	}
	if req.Filters.TopicL1 != "" {
		query.Set("topic_l1", req.Filters.TopicL1)
	}
	if req.Filters.TopicL2 != "" {
		query.Set("topic_l2", req.Filters.TopicL2)
	}

	var page feed.Page
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(req.UserID)+"/feed", query, &page); err != nil {
		return nil, err
	}
	if page.NextCursor != nil && *page.NextCursor == "" {
		page.NextCursor = nil
	}
	return &page, nil
}

// RefreshUser triggers a manual refresh of one user.
func (c *Client) RefreshUser(ctx context.Context, userID string) (admin.Report, error) {
	if userID == "" {
		return admin.Report{}, admin.ErrMissingUser
	}
	var report admin.Report
	err := c.do(ctx, http.MethodPost, "/v1/admin/refresh/users/"+url.PathEscape(userID), nil, &report)
	return report, err
}

// RefreshStale triggers a stale-only sweep. Zero values use the server defaults.
func (c *Client) RefreshStale(ctx context.Context, minValidRows, batchLimit int) (admin.Report, error) {
	query := url.Values{}
	if minValidRows > 0 {
		query.Set("min_valid_rows", strconv.Itoa(minValidRows))
	}
	if batchLimit > 0 {
		query.Set("batch_limit", strconv.Itoa(batchLimit))
	}
	var report admin.Report
	err := c.do(ctx, http.MethodPost, "/v1/admin/refresh/stale", query, &report)
	return report, err
}

// RefreshAll triggers a full sweep.
func (c *Client) RefreshAll(ctx context.Context, force bool) (admin.Report, error) {
	query := url.Values{}
	if force {
		query.Set("force", "true")
	}
	var report admin.Report
	err := c.do(ctx, http.MethodPost, "/v1/admin/refresh/all", query, &report)
	return report, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	endpoint := c.base.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}
