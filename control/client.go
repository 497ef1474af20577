package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8080"

	healthPath = "/api/health"
	promptPath = "/api/prompt"
)

var ErrNotRunning = errors.New("sidecar is not running")

// RunningFunc reports whether the sidecar is currently running.
type RunningFunc func() bool

// Client talks to the sidecar's loopback HTTP API.
// Calls fail fast with ErrNotRunning, without any network I/O, when the sidecar is not running.
// Transport failures never change the supervisor's view of the child.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	running                  RunningFunc
	baseURL                  string
	customizeRetryableClient func(*retryablehttp.Client)
}

type Option func(c *Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = hc
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.Logger = l.Named("control_client").Sugar()
	}
}

// WithCustomizeRetryableClient adjusts the client used by WaitReady.
func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) Option {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewClient(running RunningFunc, opts ...Option) *Client {
	c := &Client{
		Logger:     zap.NewNop().Sugar(),
		HTTPClient: cleanhttp.DefaultPooledClient(),
		running:    running,
		baseURL:    DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HealthCheck probes the sidecar's health endpoint and describes the result.
func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	if !c.running() {
		return "", ErrNotRunning
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Logger.Debugf("health check error: %s", err)
		return "", fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	// Any JSON document is accepted; only a string "status" field is surfaced.
	var body interface{}
	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return "", fmt.Errorf("parsing health response: %w", err)
	}
	if obj, ok := body.(map[string]interface{}); ok {
		if status, ok := obj["status"].(string); ok {
			return fmt.Sprintf("sidecar health check: %s", status), nil
		}
	}
	return "sidecar health check successful", nil
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// SendPrompt forwards prompt to the sidecar and returns the raw response body.
// It is never retried.
func (c *Client) SendPrompt(ctx context.Context, prompt string) (string, error) {
	if !c.running() {
		return "", ErrNotRunning
	}

	b, err := json.Marshal(promptRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encoding prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+promptPath, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Logger.Debugf("prompt request error: %s", err)
		return "", fmt.Errorf("prompt request failed: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", fmt.Errorf("prompt request failed with status: %s", resp.Status)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading prompt response: %w", err)
	}
	return string(respBody), nil
}

// WaitReady polls the health endpoint with backoff until it answers with a success status,
// ctx is done, or the retry budget is spent.
func (c *Client) WaitReady(ctx context.Context) error {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = c.HTTPClient
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.RetryMax = 20
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := retryClient.Do(req)
	if err != nil {
		return fmt.Errorf("waiting for sidecar: %w", err)
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return fmt.Errorf("unexpected health status %s", resp.Status)
	}
	c.Logger.Debug("health check succeeded, done waiting for sidecar")
	return nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
