package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nutrilog/internal/config"
)

// ErrDaemonUnavailable is returned when no daemon answers at the API address.
var ErrDaemonUnavailable = errors.New("nutrilog daemon is not reachable")

// StatusError carries a non-2xx API answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.Code)
	}
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// NewClient constructs a client for the API rooted at baseURL.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientFromConfig dials the daemon at the configured bind address. Wildcard
// hosts are replaced by loopback.
func ClientFromConfig(cfg *config.Config) *Client {
	return NewClient(BaseURLFor(cfg.Paths.APIBind), cfg.Paths.APIToken)
}

// BaseURLFor converts a listen address into a base URL.
func BaseURLFor(bind string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(bind))
	if err != nil {
		return "http://" + strings.TrimSpace(bind)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Submit enqueues a photo.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp)
	return resp, err
}

// ListJobs returns jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses []string) ([]Job, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		query := url.Values{}
		for _, status := range statuses {
			query.Add("status", status)
		}
		path += "?" + query.Encode()
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob describes one job.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &resp)
	return resp.Job, err
}

// History returns the event history of a job.
func (c *Client) History(ctx context.Context, id string) ([]JobEvent, error) {
	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Retry re-queues a retained failure.
func (c *Client) Retry(ctx context.Context, id string) (RetryResult, error) {
	var resp RetryResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/retry", nil, &resp)
	if err != nil {
		return RetryResult{JobID: id, Error: err.Error()}, err
	}
	if len(resp.Results) == 0 {
		return RetryResult{JobID: id}, errors.New("retry returned no result")
	}
	return resp.Results[0], nil
}

// Purge removes finalized jobs older than olderThanDays (0 uses the
// configured retention).
func (c *Client) Purge(ctx context.Context, olderThanDays int) (int, error) {
	var resp PurgeResponse
	err := c.do(ctx, http.MethodPost, "/api/queue/purge", PurgeRequest{OlderThanDays: olderThanDays}, &resp)
	return resp.Removed, err
}

// Stats returns job counts per status.
func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	var resp QueueStatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue/stats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Counts, nil
}

// Status returns daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

// Logs fetches daemon log lines after since. With follow set the daemon holds
// the request until a line arrives or its wait expires.
func (c *Client) Logs(ctx context.Context, since uint64, limit int, follow bool, jobID string) (LogStreamResponse, error) {
	query := url.Values{}
	if since > 0 {
		query.Set("since", strconv.FormatUint(since, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if follow {
		query.Set("follow", "1")
	}
	if jobID != "" {
		query.Set("job", jobID)
	}
	path := "/api/logs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp LogStreamResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w at %s: %v", ErrDaemonUnavailable, c.baseURL, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(apiErr.Error)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
