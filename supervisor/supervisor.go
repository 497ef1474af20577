package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	loggerName = "supervisor"

	DefaultExecutable  = "opencode"
	HTTPModeArg        = "--http-mode"
	DefaultGracePeriod = 1 * time.Second
)

var ErrNoProcessID = errors.New("no process id available")

var defaultLogger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	defaultLogger = logger.Sugar().Named(loggerName)
}

// Supervisor runs at most one sidecar child process and tracks whether it is alive.
// All methods are safe for concurrent use.
type Supervisor struct {
	log      *zap.SugaredLogger
	launcher Launcher
	resolve  func(name string) (string, error)
	killPID  func(ctx context.Context, pid int) error

	executable   string
	args         []string
	env          []string
	dir          string
	gracePeriod  time.Duration
	readyCheck   func(ctx context.Context) error
	readyTimeout time.Duration
	onOutput     func(OutputLine)

	mut       sync.Mutex
	running   bool
	starting  bool
	proc      Process
	lastErr   *string
	gen       uint64
	runID     string
	startedAt time.Time
	// done is closed when the monitor loop of the latest child returns
	done chan struct{}
}

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	Running   bool
	PID       int
	RunID     string
	LastError string
	StartedAt time.Time
}

func New(launcher Launcher, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:         defaultLogger,
		launcher:    launcher,
		resolve:     ResolveExecutable,
		killPID:     killPID,
		executable:  DefaultExecutable,
		args:        []string{HTTPModeArg},
		gracePeriod: DefaultGracePeriod,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the child unless one is already running, in which case it does nothing.
// It returns an error if the child could not be launched; a later crash is reported through
// IsRunning and LastError. Start returns after the grace period (or ready check), which does not
// guarantee the child is serving yet.
//
// If ctx is done during the grace period (or ready check), Start returns ctx.Err() even though
// the child was launched. The child keeps running and stays tracked, so Stop still ends it.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mut.Lock()
	if s.running || s.starting {
		s.mut.Unlock()
		return nil
	}
	s.starting = true
	s.lastErr = nil
	s.mut.Unlock()

	path, err := s.resolve(s.executable)
	if err != nil {
		return s.launchFailed(fmt.Errorf("resolving sidecar executable: %w", err))
	}

	proc, err := s.launcher.Launch(ctx, Command{
		Path: path,
		Args: s.args,
		Env:  s.env,
		Dir:  s.dir,
	})
	if err != nil {
		return s.launchFailed(fmt.Errorf("spawning sidecar: %w", err))
	}

	done := make(chan struct{})
	runID := uuid.NewString()

	s.mut.Lock()
	s.gen++
	gen := s.gen
	s.proc = proc
	s.running = true
	s.starting = false
	s.runID = runID
	s.startedAt = time.Now()
	s.done = done
	s.mut.Unlock()

	s.log.Infow("sidecar started", "path", path, "pid", proc.PID(), "run_id", runID)

	go s.monitor(gen, runID, proc, done)

	return s.awaitReady(ctx, done)
}

func (s *Supervisor) launchFailed(err error) error {
	msg := err.Error()
	s.mut.Lock()
	s.starting = false
	s.lastErr = &msg
	s.mut.Unlock()
	s.log.Warnf("failed to start sidecar: %s", err)
	return err
}

// awaitReady waits for the grace period or the ready check, cutting either short if the child exits first.
func (s *Supervisor) awaitReady(ctx context.Context, exited <-chan struct{}) error {
	if s.readyCheck == nil {
		t := time.NewTimer(s.gracePeriod)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return nil
		case <-t.C:
			return nil
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	go func() {
		select {
		case <-exited:
			cancel()
		case <-checkCtx.Done():
		}
	}()
	err := s.readyCheck(checkCtx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		s.log.Warnf("sidecar not ready after %s: %s", s.readyTimeout, err)
	}
	return nil
}

// Stop terminates the running child. It is a no-op if nothing is running.
// On success the supervisor immediately reports not running; the child may not be fully reaped yet.
// If termination fails, the error is recorded and the supervisor still reports running.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mut.Lock()
	running, proc, gen := s.running, s.proc, s.gen
	s.mut.Unlock()

	if !running {
		return nil
	}
	if proc == nil {
		return ErrNoProcessID
	}

	pid := proc.PID()
	err := s.terminate(ctx, proc)
	if err != nil {
		err = fmt.Errorf("failed to kill process: %w", err)
		msg := err.Error()
		s.mut.Lock()
		s.lastErr = &msg
		s.mut.Unlock()
		s.log.Warnf("failed to stop sidecar pid %d: %s", pid, err)
		return err
	}

	s.mut.Lock()
	if s.gen == gen {
		s.running = false
		s.proc = nil
	}
	s.mut.Unlock()

	s.log.Infow("sidecar stopped", "pid", pid)
	return nil
}

func (s *Supervisor) terminate(ctx context.Context, proc Process) error {
	if t, ok := proc.(Terminator); ok {
		err := t.Terminate()
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
	return s.killPID(ctx, proc.PID())
}

// WaitExit blocks until the monitor loop of the most recently started child has returned.
func (s *Supervisor) WaitExit(ctx context.Context) error {
	s.mut.Lock()
	done := s.done
	s.mut.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) IsRunning() bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.running
}

// LastError returns the most recently recorded failure, if any.
func (s *Supervisor) LastError() (string, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.lastErr == nil {
		return "", false
	}
	return *s.lastErr, true
}

func (s *Supervisor) PID() (int, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.proc == nil {
		return 0, false
	}
	return s.proc.PID(), true
}

func (s *Supervisor) Status() Status {
	s.mut.Lock()
	defer s.mut.Unlock()
	st := Status{
		Running:   s.running,
		RunID:     s.runID,
		StartedAt: s.startedAt,
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	if s.lastErr != nil {
		st.LastError = *s.lastErr
	}
	return st
}
