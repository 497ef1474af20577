package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/sidecar"
	"github.com/guseggert/sidecar/control"
	"github.com/guseggert/sidecar/hostapi"
	"github.com/guseggert/sidecar/supervisor"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const stopTimeout = 5 * time.Second

func main() {
	app := &cli.App{
		Name:  "sidecarhost",
		Usage: "run and talk to the sidecar server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "executable",
				Usage:   "Name or path of the sidecar binary.",
				Value:   supervisor.DefaultExecutable,
				EnvVars: []string{"SIDECAR_EXECUTABLE"},
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Base URL of the sidecar's HTTP API.",
				Value:   control.DefaultBaseURL,
				EnvVars: []string{"SIDECAR_BASE_URL"},
			},
			&cli.DurationFlag{
				Name:    "grace-period",
				Usage:   "How long to wait after launching the sidecar before using it.",
				Value:   supervisor.DefaultGracePeriod,
				EnvVars: []string{"SIDECAR_GRACE_PERIOD"},
			},
			&cli.DurationFlag{
				Name:    "readiness-timeout",
				Usage:   "If set, poll the sidecar's health endpoint for up to this long instead of waiting for the grace period.",
				EnvVars: []string{"SIDECAR_READINESS_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "One of [debug,info,warn,error].",
				Value:   "info",
				EnvVars: []string{"SIDECAR_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the sidecar and serve the host API until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "listen-addr",
						Usage:   "The address for the host API to listen on.",
						Value:   "127.0.0.1:7777",
						EnvVars: []string{"SIDECAR_LISTEN_ADDR"},
					},
					&cli.BoolFlag{
						Name:  "no-autostart",
						Usage: "Don't start the sidecar until asked to through the host API.",
					},
				},
				Action: serve,
			},
			{
				Name:   "health",
				Usage:  "start the sidecar, check its health, and stop it",
				Action: health,
			},
			{
				Name:      "prompt",
				Usage:     "start the sidecar, send it a prompt, print the response, and stop it",
				ArgsUsage: "<prompt>",
				Action:    prompt,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func newManager(ctx *cli.Context) (*sidecar.Manager, *zap.Logger, error) {
	logger, err := newLogger(ctx.String("log-level"))
	if err != nil {
		return nil, nil, err
	}
	opts := []sidecar.Option{
		sidecar.WithLogger(logger),
		sidecar.WithExecutable(ctx.String("executable")),
		sidecar.WithBaseURL(ctx.String("base-url")),
		sidecar.WithGracePeriod(ctx.Duration("grace-period")),
	}
	if d := ctx.Duration("readiness-timeout"); d > 0 {
		opts = append(opts, sidecar.WithReadinessProbe(d))
	}
	return sidecar.New(opts...), logger, nil
}

func serve(ctx *cli.Context) error {
	m, logger, err := newManager(ctx)
	if err != nil {
		return err
	}
	sugar := logger.Sugar()

	server, err := hostapi.NewServer(m,
		hostapi.WithListenAddr(ctx.String("listen-addr")),
		hostapi.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("building host API server: %w", err)
	}

	if !ctx.Bool("no-autostart") {
		err := m.Start(ctx.Context)
		if err != nil {
			// keep serving so the sidecar can be started later through the API
			sugar.Warnf("failed to auto-start sidecar: %s", err)
		}
	}

	sigCtx, cancel := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(sigCtx)
	group.Go(server.Run)
	group.Go(func() error {
		<-groupCtx.Done()
		sugar.Info("shutting down")
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		err := m.Stop(stopCtx)
		if err != nil {
			sugar.Warnf("failed to stop sidecar during cleanup: %s", err)
		}
		return server.Stop()
	})
	return group.Wait()
}

// withSidecar starts the sidecar, runs f, and always stops the sidecar afterwards.
func withSidecar(ctx *cli.Context, f func(m *sidecar.Manager) error) (err error) {
	m, _, err := newManager(ctx)
	if err != nil {
		return err
	}
	err = m.Start(ctx.Context)
	if err != nil {
		return fmt.Errorf("starting sidecar: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		err = errors.Join(err, m.Stop(stopCtx))
	}()
	return f(m)
}

func health(ctx *cli.Context) error {
	return withSidecar(ctx, func(m *sidecar.Manager) error {
		msg, err := m.HealthCheck(ctx.Context)
		if err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, msg)
		return nil
	})
}

func prompt(ctx *cli.Context) error {
	text := ctx.Args().First()
	if text == "" {
		return errors.New("a prompt is required")
	}
	return withSidecar(ctx, func(m *sidecar.Manager) error {
		resp, err := m.SendPrompt(ctx.Context, text)
		if err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, resp)
		return nil
	})
}
