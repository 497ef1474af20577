package sidecar

import (
	"net/http"
	"time"

	"github.com/guseggert/sidecar/control"
	"github.com/guseggert/sidecar/supervisor"
	"go.uber.org/zap"
)

type config struct {
	logger           *zap.Logger
	launcher         supervisor.Launcher
	supervisorOpts   []supervisor.Option
	clientOpts       []control.Option
	readinessTimeout time.Duration
}

type Option func(c *config)

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func WithLauncher(l supervisor.Launcher) Option {
	return func(c *config) {
		c.launcher = l
	}
}

func WithExecutable(name string) Option {
	return func(c *config) {
		c.supervisorOpts = append(c.supervisorOpts, supervisor.WithExecutable(name))
	}
}

func WithArgs(args ...string) Option {
	return func(c *config) {
		c.supervisorOpts = append(c.supervisorOpts, supervisor.WithArgs(args...))
	}
}

func WithEnv(env ...string) Option {
	return func(c *config) {
		c.supervisorOpts = append(c.supervisorOpts, supervisor.WithEnv(env...))
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(c *config) {
		c.supervisorOpts = append(c.supervisorOpts, supervisor.WithGracePeriod(d))
	}
}

// WithReadinessProbe makes Start poll the health endpoint for up to timeout instead of sleeping for the grace period.
func WithReadinessProbe(timeout time.Duration) Option {
	return func(c *config) {
		c.readinessTimeout = timeout
	}
}

func WithBaseURL(u string) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, control.WithBaseURL(u))
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, control.WithHTTPClient(hc))
	}
}
