package api

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
	"strings"
	"time"

	"courier/internal/telemetry"
)

// ErrUnavailable marks requests that never reached the daemon.
var ErrUnavailable = errors.New("daemon unavailable")

// StatusError is returned for non-2xx replies.
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

// Client talks to the daemon's HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for bind, which may be a host:port pair or a
// full URL. httpClient may be nil.
func NewClient(bind, token string, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: telemetry.Transport(nil),
		}
	}
	return &Client{base: base, token: strings.TrimSpace(token), http: httpClient}
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var out DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Files lists records, optionally filtered by status.
func (c *Client) Files(ctx context.Context, statuses ...string) ([]FileRecord, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	path := "/api/files"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out FileListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// File looks up an upload by file-id. It returns nil when the daemon does not
// know the file-id.
func (c *Client) File(ctx context.Context, fileID int64) (*FileResponse, error) {
	var out FileResponse
	err := c.do(ctx, http.MethodGet, "/api/files/"+strconv.FormatInt(fileID, 10), nil, &out)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Retry re-arms failed records through the daemon.
func (c *Client) Retry(ctx context.Context, ids ...int64) (int64, error) {
	var out CountResponse
	if err := c.do(ctx, http.MethodPost, "/api/files/retry", RetryRequest{IDs: ids}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil || c.base == "" {
		return fmt.Errorf("%w: api bind not configured", ErrUnavailable)
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
