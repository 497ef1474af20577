package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guseggert/sidecar/control"
	"github.com/guseggert/sidecar/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakeSidecar struct {
	startErr  error
	stopErr   error
	healthMsg string
	healthErr error
	promptErr error
	status    supervisor.Status
	lines     chan supervisor.OutputLine
}

func (f *fakeSidecar) Start(ctx context.Context) error { return f.startErr }

func (f *fakeSidecar) Stop(ctx context.Context) error { return f.stopErr }

func (f *fakeSidecar) HealthCheck(ctx context.Context) (string, error) {
	return f.healthMsg, f.healthErr
}

func (f *fakeSidecar) SendPrompt(ctx context.Context, prompt string) (string, error) {
	if f.promptErr != nil {
		return "", f.promptErr
	}
	return "echo: " + prompt, nil
}

func (f *fakeSidecar) Status() supervisor.Status { return f.status }

func (f *fakeSidecar) Subscribe() (<-chan supervisor.OutputLine, func()) {
	return f.lines, func() {}
}

func newTestServer(t *testing.T, sc *fakeSidecar) *httptest.Server {
	s, err := NewServer(sc, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body any) (int, []byte) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out.Bytes()
}

func TestStatus(t *testing.T) {
	started := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	sc := &fakeSidecar{status: supervisor.Status{
		Running:   true,
		PID:       42,
		RunID:     "run-1",
		StartedAt: started,
	}}
	ts := newTestServer(t, sc)

	code, body := do(t, http.MethodGet, ts.URL+"/sidecar/status", nil)
	require.Equal(t, http.StatusOK, code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, StatusResponse{
		Running:   true,
		PID:       42,
		RunID:     "run-1",
		StartedAt: "2026-10-15T12:00:00Z",
	}, resp)
}

func TestStartAndStop(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		sc       *fakeSidecar
		expCode  int
		expError string
	}{
		{
			name:    "start",
			path:    "/sidecar/start",
			sc:      &fakeSidecar{status: supervisor.Status{Running: true, PID: 7}},
			expCode: http.StatusOK,
		},
		{
			name:     "start failure",
			path:     "/sidecar/start",
			sc:       &fakeSidecar{startErr: errors.New("spawning sidecar: no such file")},
			expCode:  http.StatusInternalServerError,
			expError: "spawning sidecar: no such file",
		},
		{
			name:    "stop",
			path:    "/sidecar/stop",
			sc:      &fakeSidecar{},
			expCode: http.StatusOK,
		},
		{
			name:     "stop without pid",
			path:     "/sidecar/stop",
			sc:       &fakeSidecar{stopErr: supervisor.ErrNoProcessID},
			expCode:  http.StatusConflict,
			expError: "no process id available",
		},
		{
			name:     "stop failure",
			path:     "/sidecar/stop",
			sc:       &fakeSidecar{stopErr: errors.New("failed to kill process: denied")},
			expCode:  http.StatusInternalServerError,
			expError: "failed to kill process: denied",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ts := newTestServer(t, c.sc)
			code, body := do(t, http.MethodPost, ts.URL+c.path, nil)
			assert.Equal(t, c.expCode, code)
			if c.expError == "" {
				var resp StatusResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, c.sc.status.Running, resp.Running)
				return
			}
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.Equal(t, c.expError, resp.Error)
		})
	}
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name    string
		sc      *fakeSidecar
		expCode int
		expBody string
	}{
		{
			name:    "healthy",
			sc:      &fakeSidecar{healthMsg: "sidecar health check: ok"},
			expCode: http.StatusOK,
			expBody: "sidecar health check: ok",
		},
		{
			name:    "not running",
			sc:      &fakeSidecar{healthErr: control.ErrNotRunning},
			expCode: http.StatusConflict,
			expBody: "sidecar is not running",
		},
		{
			name:    "transport error",
			sc:      &fakeSidecar{healthErr: fmt.Errorf("health check request failed: %w", errors.New("connection refused"))},
			expCode: http.StatusBadGateway,
			expBody: "connection refused",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ts := newTestServer(t, c.sc)
			code, body := do(t, http.MethodGet, ts.URL+"/sidecar/health", nil)
			assert.Equal(t, c.expCode, code)
			assert.Contains(t, string(body), c.expBody)
		})
	}
}

func TestPrompt(t *testing.T) {
	ts := newTestServer(t, &fakeSidecar{})

	code, body := do(t, http.MethodPost, ts.URL+"/sidecar/prompt", PromptRequest{Prompt: "hello"})
	require.Equal(t, http.StatusOK, code)
	var resp PromptResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "echo: hello", resp.Response)
}

func TestPromptErrors(t *testing.T) {
	ts := newTestServer(t, &fakeSidecar{promptErr: control.ErrNotRunning})

	code, _ := do(t, http.MethodPost, ts.URL+"/sidecar/prompt", PromptRequest{Prompt: "hello"})
	assert.Equal(t, http.StatusConflict, code)

	resp, err := http.Post(ts.URL+"/sidecar/prompt", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOutputStream(t *testing.T) {
	sc := &fakeSidecar{lines: make(chan supervisor.OutputLine, 2)}
	ts := newTestServer(t, sc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sidecar/output"
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sc.lines <- supervisor.OutputLine{RunID: "run-1", Stream: "stdout", Line: "listening"}
	sc.lines <- supervisor.OutputLine{RunID: "run-1", Stream: "stderr", Line: "warning"}

	var msg OutputMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, OutputMessage{RunID: "run-1", Stream: "stdout", Line: "listening"}, msg)
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, OutputMessage{RunID: "run-1", Stream: "stderr", Line: "warning"}, msg)
}

func runAsync(s *Server) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- s.Run() }()
	return errc
}

func TestRunAfterStopReturns(t *testing.T) {
	s, err := NewServer(&fakeSidecar{}, WithLogger(zap.NewNop()), WithListenAddr("127.0.0.1:0"))
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	select {
	case err := <-runAsync(s):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept serving after Stop")
	}
}

func TestStopEndsRun(t *testing.T) {
	s, err := NewServer(&fakeSidecar{}, WithLogger(zap.NewNop()), WithListenAddr("127.0.0.1:0"))
	require.NoError(t, err)
	errc := runAsync(s)

	// Stop may land before or after Run stores its server; both must end Run.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Stop())

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept serving after Stop")
	}
}
