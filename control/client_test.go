package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func running() bool    { return true }
func notRunning() bool { return false }

func newTestServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(s.Close)
	return s, &hits
}

func TestHealthCheck(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		body   string
		expMsg string
		expErr string
	}{
		{
			name:   "status field",
			code:   http.StatusOK,
			body:   `{"status":"ok"}`,
			expMsg: "sidecar health check: ok",
		},
		{
			name:   "no status field",
			code:   http.StatusOK,
			body:   `{"uptime":12}`,
			expMsg: "sidecar health check successful",
		},
		{
			name:   "non-string status",
			code:   http.StatusOK,
			body:   `{"status":1}`,
			expMsg: "sidecar health check successful",
		},
		{
			name:   "non-object body",
			code:   http.StatusOK,
			body:   `["ok"]`,
			expMsg: "sidecar health check successful",
		},
		{
			name:   "error status",
			code:   http.StatusServiceUnavailable,
			body:   `{"status":"starting"}`,
			expErr: "health check failed with status: 503 Service Unavailable",
		},
		{
			name:   "malformed body",
			code:   http.StatusOK,
			body:   `ok`,
			expErr: "parsing health response",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/health", r.URL.Path)
				w.WriteHeader(c.code)
				w.Write([]byte(c.body))
			})
			client := NewClient(running, WithBaseURL(s.URL), WithLogger(zaptest.NewLogger(t)))

			msg, err := client.HealthCheck(context.Background())
			assert.Equal(t, int32(1), hits.Load())
			if c.expErr != "" {
				require.ErrorContains(t, err, c.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expMsg, msg)
		})
	}
}

func TestHealthCheckTransportError(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	url := s.URL
	s.Close()

	client := NewClient(running, WithBaseURL(url))
	_, err := client.HealthCheck(context.Background())
	require.ErrorContains(t, err, "health check request failed")
}

func TestNotRunningSkipsNetwork(t *testing.T) {
	s, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	client := NewClient(notRunning, WithBaseURL(s.URL))

	_, err := client.HealthCheck(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)

	_, err = client.SendPrompt(context.Background(), "x")
	require.ErrorIs(t, err, ErrNotRunning)

	assert.Equal(t, int32(0), hits.Load())
}

func TestSendPrompt(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/prompt", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte("you said: " + req["prompt"]))
	})
	client := NewClient(running, WithBaseURL(s.URL))

	resp, err := client.SendPrompt(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "you said: hello", resp)
}

func TestSendPromptErrorStatus(t *testing.T) {
	s, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusInternalServerError)
	})
	client := NewClient(running, WithBaseURL(s.URL))

	_, err := client.SendPrompt(context.Background(), "hello")
	require.ErrorContains(t, err, "prompt request failed with status: 500 Internal Server Error")
	assert.Equal(t, int32(1), hits.Load(), "prompts must not be retried")
}

func TestSendPromptTransportError(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	url := s.URL
	s.Close()

	client := NewClient(running, WithBaseURL(url))
	_, err := client.SendPrompt(context.Background(), "hello")
	require.ErrorContains(t, err, "prompt request failed")
}

func fastRetries(r *retryablehttp.Client) {
	r.RetryMax = 3
	r.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return time.Millisecond
	}
}

func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	s, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	client := NewClient(notRunning, WithBaseURL(s.URL), WithCustomizeRetryableClient(fastRetries))

	require.NoError(t, client.WaitReady(context.Background()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWaitReadyGivesUp(t *testing.T) {
	s, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client := NewClient(notRunning, WithBaseURL(s.URL), WithCustomizeRetryableClient(fastRetries))

	err := client.WaitReady(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(4), hits.Load())
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestWaitReadyUsesConfiguredHTTPClient(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	transport := &countingTransport{}
	client := NewClient(notRunning,
		WithBaseURL(s.URL),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithCustomizeRetryableClient(fastRetries),
	)

	require.NoError(t, client.WaitReady(context.Background()))
	assert.Equal(t, int32(1), transport.calls.Load())
}
