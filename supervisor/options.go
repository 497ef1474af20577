package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Option func(s *Supervisor)

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.log = l.Named(loggerName).Sugar()
	}
}

// WithExecutable sets the name or path of the child binary, resolved with ResolveExecutable.
func WithExecutable(name string) Option {
	return func(s *Supervisor) {
		s.executable = name
	}
}

// WithArgs replaces the child's arguments. The default is just --http-mode.
func WithArgs(args ...string) Option {
	return func(s *Supervisor) {
		s.args = args
	}
}

// WithEnv adds environment variables ("KEY=value") to the child's inherited environment.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) {
		s.env = append(s.env, env...)
	}
}

func WithDir(dir string) Option {
	return func(s *Supervisor) {
		s.dir = dir
	}
}

// WithGracePeriod sets how long Start waits after spawning before returning.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		s.gracePeriod = d
	}
}

// WithReadyCheck replaces the fixed grace period with f, which Start calls with a deadline of timeout.
// A failing check is logged but does not fail Start; the child is still running and tracked.
func WithReadyCheck(f func(ctx context.Context) error, timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.readyCheck = f
		s.readyTimeout = timeout
	}
}

// WithOutputHandler registers f to receive every line of child output.
// f is called from the monitor goroutine and must not block.
func WithOutputHandler(f func(OutputLine)) Option {
	return func(s *Supervisor) {
		s.onOutput = f
	}
}

func WithResolver(f func(name string) (string, error)) Option {
	return func(s *Supervisor) {
		s.resolve = f
	}
}
