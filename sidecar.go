package sidecar

import (
	"context"

	"github.com/guseggert/sidecar/control"
	"github.com/guseggert/sidecar/supervisor"
)

const outputBuffer = 256

// Manager is the host-facing handle to the sidecar.
type Manager struct {
	sup    *supervisor.Supervisor
	client *control.Client
	hub    *outputHub
}

func New(opts ...Option) *Manager {
	cfg := &config{launcher: supervisor.ExecLauncher{}}
	for _, o := range opts {
		o(cfg)
	}

	m := &Manager{hub: newOutputHub()}

	supOpts := []supervisor.Option{supervisor.WithOutputHandler(m.hub.publish)}
	clientOpts := []control.Option{}
	if cfg.logger != nil {
		supOpts = append(supOpts, supervisor.WithLogger(cfg.logger))
		clientOpts = append(clientOpts, control.WithLogger(cfg.logger))
	}
	if cfg.readinessTimeout > 0 {
		supOpts = append(supOpts, supervisor.WithReadyCheck(func(ctx context.Context) error {
			return m.client.WaitReady(ctx)
		}, cfg.readinessTimeout))
	}
	supOpts = append(supOpts, cfg.supervisorOpts...)
	clientOpts = append(clientOpts, cfg.clientOpts...)

	m.sup = supervisor.New(cfg.launcher, supOpts...)
	m.client = control.NewClient(m.sup.IsRunning, clientOpts...)
	return m
}

// Start launches the sidecar if it is not already running.
func (m *Manager) Start(ctx context.Context) error { return m.sup.Start(ctx) }

// Stop terminates the sidecar if it is running.
func (m *Manager) Stop(ctx context.Context) error { return m.sup.Stop(ctx) }

func (m *Manager) HealthCheck(ctx context.Context) (string, error) { return m.client.HealthCheck(ctx) }

func (m *Manager) SendPrompt(ctx context.Context, prompt string) (string, error) {
	return m.client.SendPrompt(ctx, prompt)
}

func (m *Manager) IsRunning() bool { return m.sup.IsRunning() }

func (m *Manager) LastError() (string, bool) { return m.sup.LastError() }

func (m *Manager) Status() supervisor.Status { return m.sup.Status() }

// WaitExit blocks until the most recently started sidecar has exited and been observed.
func (m *Manager) WaitExit(ctx context.Context) error { return m.sup.WaitExit(ctx) }

// Subscribe returns a channel of sidecar output lines and a func that unsubscribes and closes it.
// Lines are dropped for subscribers that do not keep up.
func (m *Manager) Subscribe() (<-chan supervisor.OutputLine, func()) {
	return m.hub.subscribe(outputBuffer)
}
