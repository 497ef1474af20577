// Package hostapi exposes the host's sidecar commands over loopback HTTP,
// so a UI shell can start, stop, query and prompt the sidecar and follow its output.
package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/sidecar/control"
	"github.com/guseggert/sidecar/supervisor"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Sidecar is the set of host operations the server exposes.
type Sidecar interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) (string, error)
	SendPrompt(ctx context.Context, prompt string) (string, error)
	Status() supervisor.Status
	Subscribe() (<-chan supervisor.OutputLine, func())
}

type Server struct {
	logger     *zap.SugaredLogger
	sidecar    Sidecar
	listenAddr string

	mut        sync.Mutex
	httpServer *http.Server
	stopped    bool
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("hostapi").Sugar()
	}
}

func NewServer(sc Sidecar, opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger:     logger.Named("hostapi").Sugar(),
		sidecar:    sc,
		listenAddr: "127.0.0.1:7777",
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.POST("/sidecar/start", s.start)
	router.POST("/sidecar/stop", s.stop)
	router.GET("/sidecar/status", s.status)
	router.GET("/sidecar/health", s.health)
	router.POST("/sidecar/prompt", s.prompt)
	router.GET("/sidecar/output", s.output)
	return router
}

// Run serves until Stop is called. It returns immediately if Stop was already called.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	server := &http.Server{Handler: s.Handler()}
	s.mut.Lock()
	if s.stopped {
		s.mut.Unlock()
		listener.Close()
		return nil
	}
	s.httpServer = server
	s.mut.Unlock()
	s.logger.Infof("serving host API on %s", listener.Addr())

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	s.mut.Lock()
	s.stopped = true
	server := s.httpServer
	s.mut.Unlock()
	if server == nil {
		return nil
	}
	return server.Close()
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	RunID     string `json:"runId,omitempty"`
	LastError string `json:"lastError,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
}

type HealthResponse struct {
	Message string `json:"message"`
}

type PromptRequest struct {
	Prompt string `json:"prompt"`
}

type PromptResponse struct {
	Response string `json:"response"`
}

type OutputMessage struct {
	RunID  string `json:"runId"`
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(b)
	if err != nil {
		s.logger.Debugf("error writing response: %s", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

// errorCode maps sidecar errors to HTTP status codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, control.ErrNotRunning), errors.Is(err, supervisor.ErrNoProcessID):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := s.sidecar.Start(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStatusResponse(s.sidecar.Status()))
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := s.sidecar.Stop(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrNoProcessID) {
			code = http.StatusConflict
		}
		s.writeError(w, code, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStatusResponse(s.sidecar.Status()))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, toStatusResponse(s.sidecar.Status()))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	msg, err := s.sidecar.HealthCheck(r.Context())
	if err != nil {
		s.writeError(w, errorCode(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Message: msg})
}

func (s *Server) prompt(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req PromptRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	resp, err := s.sidecar.SendPrompt(r.Context(), req.Prompt)
	if err != nil {
		s.writeError(w, errorCode(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, PromptResponse{Response: resp})
}

// output streams sidecar output lines to a WebSocket client until either side goes away.
func (s *Server) output(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger.Debugf("output WebSocket accept error: %s", err)
		return
	}

	lines, cancel := s.sidecar.Subscribe()
	defer cancel()

	// the client never sends anything; CloseRead handles its close frame
	ctx := wsConn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			wsConn.Close(websocket.StatusNormalClosure, "")
			return
		case line, ok := <-lines:
			if !ok {
				wsConn.Close(websocket.StatusNormalClosure, "")
				return
			}
			err := wsjson.Write(ctx, wsConn, OutputMessage{
				RunID:  line.RunID,
				Stream: line.Stream,
				Line:   line.Line,
			})
			if err != nil {
				s.logger.Debugf("error writing output message: %s", err)
				return
			}
		}
	}
}

func toStatusResponse(st supervisor.Status) StatusResponse {
	resp := StatusResponse{
		Running:   st.Running,
		PID:       st.PID,
		RunID:     st.RunID,
		LastError: st.LastError,
	}
	if !st.StartedAt.IsZero() {
		resp.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
