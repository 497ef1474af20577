package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// maxLineSize bounds a single line of child output.
// A longer line is cut at this size and the remainder up to the next newline is dropped.
const maxLineSize = 1024 * 1024

// pipeDrainDelay is how long Wait keeps reading output after the child exits.
// Descendants of the child may inherit its stdout and stderr and hold them open indefinitely.
const pipeDrainDelay = 500 * time.Millisecond

// Command describes how to launch the child.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Process is a launched child.
// Events delivers output lines followed by exactly one EventError or EventTerminated, then closes.
type Process interface {
	PID() int
	Events() <-chan Event
}

// Terminator is implemented by processes that can be ended through the handle that launched them.
// Processes without it are terminated by PID.
type Terminator interface {
	Terminate() error
}

type Launcher interface {
	Launch(ctx context.Context, cmd Command) (Process, error)
}

// ExecLauncher launches the child as a local OS process.
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, c Command) (Process, error) {
	p := &execProcess{events: make(chan Event, 64)}
	p.stdout = &lineWriter{kind: EventStdout, events: p.events}
	p.stderr = &lineWriter{kind: EventStderr, events: p.events}

	// The child outlives ctx, so it is not bound to it.
	cmd := exec.Command(c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Dir = c.Dir
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.WaitDelay = pipeDrainDelay

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}
	p.cmd = cmd
	go p.run()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	events chan Event
	stdout *lineWriter
	stderr *lineWriter
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Events() <-chan Event { return p.events }

func (p *execProcess) Terminate() error {
	err := terminateProcess(p.cmd.Process)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) run() {
	defer close(p.events)

	// Wait returns once the child exits and its output is copied, or after
	// pipeDrainDelay if something else still holds the pipes.
	err := p.cmd.Wait()

	// the copying goroutines are done once Wait returns
	p.stdout.flush()
	p.stderr.flush()

	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			p.events <- Event{Kind: EventError, Err: err}
			return
		}
	}

	var code *int
	if p.cmd.ProcessState != nil {
		// ExitCode is -1 when the process was killed by a signal.
		if c := p.cmd.ProcessState.ExitCode(); c >= 0 {
			code = exitCode(c)
		}
	}
	p.events <- Event{Kind: EventTerminated, Code: code}
}

// lineWriter splits a stream into line events.
// It is written to by a single goroutine.
type lineWriter struct {
	kind    EventKind
	events  chan<- Event
	buf     []byte
	discard bool
}

func (w *lineWriter) Write(b []byte) (int, error) {
	n := len(b)
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			w.append(b)
			break
		}
		w.append(b[:i])
		w.emit()
		w.discard = false
		b = b[i+1:]
	}
	return n, nil
}

func (w *lineWriter) append(b []byte) {
	if w.discard {
		return
	}
	if room := maxLineSize - len(w.buf); len(b) > room {
		w.buf = append(w.buf, b[:room]...)
		w.emit()
		w.discard = true
		return
	}
	w.buf = append(w.buf, b...)
}

func (w *lineWriter) emit() {
	if w.discard {
		return
	}
	line := bytes.TrimSuffix(w.buf, []byte{'\r'})
	w.events <- Event{Kind: w.kind, Line: append([]byte(nil), line...)}
	w.buf = w.buf[:0]
}

// flush emits a trailing line that has no newline.
func (w *lineWriter) flush() {
	if len(w.buf) > 0 && !w.discard {
		w.emit()
	}
}
