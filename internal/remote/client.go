// Package remote is the HTTP client for the remote habit document store.
//
// The sync layer only needs CRUD over habit-shaped JSON documents plus a
// settings sync endpoint. Any transport error or non-2xx response is a
// RequestError, which the sync engine treats as retryable; the endpoints are
// expected to treat duplicate delivery of the same document as a safe
// overwrite (the queue provides at-least-once delivery, not exactly-once).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tallyapp/tally/internal/schema"
)

// RequestError reports a failed remote request. Status is zero for
// transport-level failures (including timeouts).
type RequestError struct {
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote request failed with status %d", e.Status)
	}
	return fmt.Sprintf("remote request failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Config holds client configuration.
type Config struct {
	// BaseURL of the remote store, e.g. "https://api.example.com".
	BaseURL string

	// HealthPath is the reachability endpoint path (default: "/api/health").
	HealthPath string

	// Timeout bounds each request (default: 30s).
	Timeout time.Duration
}

// Client talks to the remote habit store.
type Client struct {
	baseURL    string
	healthPath string
	http       *http.Client
}

// New creates a remote client.
func New(config *Config) *Client {
	if config.HealthPath == "" {
		config.HealthPath = "/api/health"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		healthPath: config.HealthPath,
		http:       &http.Client{Timeout: config.Timeout},
	}
}

// HealthURL returns the reachability probe endpoint for the connectivity
// monitor.
func (c *Client) HealthURL() string {
	return c.baseURL + c.healthPath
}

// SyncHabit delivers a habit document to the sync endpoint.
func (c *Client) SyncHabit(ctx context.Context, habit *schema.Habit) error {
	return c.postJSON(ctx, "/api/habits/sync", habit)
}

// SyncSettings delivers a settings document to the sync endpoint.
func (c *Client) SyncSettings(ctx context.Context, settings *schema.UserSettings) error {
	return c.postJSON(ctx, "/api/settings/sync", settings)
}

// DeleteHabit removes a habit document remotely. A 404 counts as success:
// the document is gone either way.
func (c *Client) DeleteHabit(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/habits/"+url.PathEscape(id), nil)
	if err != nil {
		return &RequestError{Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Status: resp.StatusCode}
	}
	return nil
}

// ListHabits queries habit documents by owner.
func (c *Client) ListHabits(ctx context.Context, ownerID string) ([]*schema.Habit, error) {
	u := fmt.Sprintf("%s/api/habits?ownerId=%s", c.baseURL, url.QueryEscape(ownerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &RequestError{Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Status: resp.StatusCode}
	}

	var habits []*schema.Habit
	if err := json.NewDecoder(resp.Body).Decode(&habits); err != nil {
		return nil, &RequestError{Err: fmt.Errorf("failed to decode habit list: %w", err)}
	}
	return habits, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &RequestError{Err: fmt.Errorf("failed to marshal request body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &RequestError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Status: resp.StatusCode}
	}
	return nil
}

// drain discards and closes the response body so connections are reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
