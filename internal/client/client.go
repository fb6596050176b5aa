// Package client is a typed HTTP client for the amassd API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/amassd/internal/api"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// DefaultBaseURL is where a local server listens by default.
const DefaultBaseURL = "http://127.0.0.1:5000"

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// UnavailableError means the breaker is open and no request was sent.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "server unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Config configures a Client. Zero values take defaults.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration // Per-request timeout when HTTPClient is nil (default 30s)
	Retry      *RetryConfig
	Breaker    *BreakerConfig
	Logger     logrus.FieldLogger
}

// Client calls one amassd server.
type Client struct {
	baseURL string
	http    *http.Client
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	breaker := DefaultBreakerConfig()
	if cfg.Breaker != nil {
		breaker = *cfg.Breaker
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		retry:   retry,
		breaker: newBreaker(u.Host, breaker, logger),
	}, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// SubmitResult is the outcome of POST /task. Status is completed,
// failed or accepted.
type SubmitResult struct {
	Status       string   `json:"status"`
	TaskID       string   `json:"task_id"`
	Domain       string   `json:"domain"`
	Output       []string `json:"output"`
	Message      string   `json:"message"`
	ErrorMessage string   `json:"error_message"`
	TaskStatus   string   `json:"task_status"`
}

// Submit creates a task. A synchronous run that failed is returned as a
// result with Status "failed", not as an error. Submit is not retried.
func (c *Client) Submit(ctx context.Context, req api.EnumRequest) (*SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var res SubmitResult
	err = c.once(func() error {
		status, raw, err := c.send(ctx, http.MethodPost, "/task", body)
		if err != nil {
			return err
		}
		if status >= 300 && status != http.StatusInternalServerError {
			return decodeError(status, raw)
		}
		if err := json.Unmarshal(raw, &res); err != nil {
			if status >= 300 {
				return decodeError(status, raw)
			}
			return fmt.Errorf("failed to decode response: %w", err)
		}
		// A 500 without a task id is a server error, not a task failure.
		if status == http.StatusInternalServerError && (res.Status != "failed" || res.TaskID == "") {
			return decodeError(status, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Task fetches one task.
func (c *Client) Task(ctx context.Context, id string) (*api.TaskResponse, error) {
	var res api.TaskResponse
	if err := c.get(ctx, "/task/"+url.PathEscape(id), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Tasks lists every task, newest first.
func (c *Client) Tasks(ctx context.Context) (*api.TasksResponse, error) {
	var res api.TasksResponse
	if err := c.get(ctx, "/tasks", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Queue returns the queue and worker status.
func (c *Client) Queue(ctx context.Context) (*api.QueueResponse, error) {
	var res api.QueueResponse
	if err := c.get(ctx, "/queue", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health calls GET /.
func (c *Client) Health(ctx context.Context) (*api.IndexResponse, error) {
	var res api.IndexResponse
	if err := c.get(ctx, "/", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Reset drains the queue and deletes every record. Not retried.
func (c *Client) Reset(ctx context.Context) (*api.ResetResponse, error) {
	var res api.ResetResponse
	err := c.once(func() error {
		status, raw, err := c.send(ctx, http.MethodPost, "/reset", nil)
		if err != nil {
			return err
		}
		return decodeBody(status, raw, &res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return withRetry(ctx, c.breaker, c.retry, func() error {
		status, raw, err := c.send(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		return decodeBody(status, raw, out)
	})
}

// once runs fn through the breaker without retry.
func (c *Client) once(fn func() error) error {
	err := withBreaker(c.breaker, fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &UnavailableError{Err: err}
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func decodeBody(status int, raw []byte, out any) error {
	if status < 200 || status >= 300 {
		return decodeError(status, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
	}
	return &APIError{StatusCode: status, Message: body.Message}
}
