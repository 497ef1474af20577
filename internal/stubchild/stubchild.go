// Package stubchild is a minimal sidecar that honors the child contract:
// with --http-mode it serves GET /api/health and POST /api/prompt until it is signaled.
// It is used by tests (re-executing the test binary) and by cmd/stubchild.
package stubchild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"github.com/urfave/cli/v2"
)

// Main runs the stub with the given argv and returns its exit code.
func Main(args []string) int {
	err := App(os.Stdout, os.Stderr).Run(args)
	if err == nil {
		return 0
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		return exitErr.ExitCode()
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func App(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:           "stubchild",
		Usage:          "a stand-in sidecar for tests",
		Writer:         stdout,
		ErrWriter:      stderr,
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "http-mode",
				Usage: "Serve over HTTP instead of running interactively.",
			},
			&cli.StringFlag{
				Name:    "listen-addr",
				Usage:   "The address for the HTTP server to listen on.",
				Value:   "localhost:8080",
				EnvVars: []string{"STUBCHILD_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "health-status",
				Usage:   "The status field reported by /api/health.",
				Value:   "ok",
				EnvVars: []string{"STUBCHILD_HEALTH_STATUS"},
			},
			&cli.StringSliceFlag{
				Name:    "stdout-line",
				Usage:   "Lines to write to stdout on startup.",
				EnvVars: []string{"STUBCHILD_STDOUT_LINES"},
			},
			&cli.StringSliceFlag{
				Name:    "stderr-line",
				Usage:   "Lines to write to stderr on startup.",
				EnvVars: []string{"STUBCHILD_STDERR_LINES"},
			},
			&cli.IntFlag{
				Name:    "exit-code",
				Usage:   "Exit immediately with this code after writing startup lines, instead of serving.",
				Value:   -1,
				EnvVars: []string{"STUBCHILD_EXIT_CODE"},
			},
			&cli.StringFlag{
				Name:    "signal-file",
				Usage:   "On SIGTERM or SIGINT, write the signal name to this file before exiting.",
				EnvVars: []string{"STUBCHILD_SIGNAL_FILE"},
			},
		},
		Action: run,
	}
}

func run(ctx *cli.Context) error {
	for _, l := range ctx.StringSlice("stdout-line") {
		fmt.Fprintln(ctx.App.Writer, l)
	}
	for _, l := range ctx.StringSlice("stderr-line") {
		fmt.Fprintln(ctx.App.ErrWriter, l)
	}

	if code := ctx.Int("exit-code"); code >= 0 {
		return cli.Exit("", code)
	}
	if !ctx.Bool("http-mode") {
		return cli.Exit("interactive mode is not supported", 2)
	}

	listener, err := net.Listen("tcp", ctx.String("listen-addr"))
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	server := &http.Server{Handler: newRouter(ctx.String("health-status"))}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigCh)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()
	fmt.Fprintf(ctx.App.Writer, "listening on %s\n", listener.Addr())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		fmt.Fprintf(ctx.App.Writer, "received %s, shutting down\n", sig)
		if f := ctx.String("signal-file"); f != "" {
			if err := os.WriteFile(f, []byte(signalName(sig)), 0644); err != nil {
				return fmt.Errorf("writing signal file: %w", err)
			}
		}
		return server.Shutdown(context.Background())
	}
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case os.Interrupt:
		return "SIGINT"
	default:
		return sig.String()
	}
}

func newRouter(healthStatus string) *httprouter.Router {
	router := httprouter.New()
	router.GET("/api/health", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		b, err := json.Marshal(map[string]string{"status": healthStatus})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Add("Content-Type", "application/json")
		w.Write(b)
	})
	router.POST("/api/prompt", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Add("Content-Type", "text/plain")
		fmt.Fprintf(w, "echo: %s", req.Prompt)
	})
	return router
}
