package supervisor

import (
	"fmt"

	"go.uber.org/zap"
)

// monitor drains the child's events until it errors or terminates.
// gen identifies the child; state is only updated while it is still the tracked child,
// so a child that was stopped (or replaced) cannot clobber newer state.
func (s *Supervisor) monitor(gen uint64, runID string, proc Process, done chan struct{}) {
	defer close(done)
	log := s.log.With("run_id", runID, "pid", proc.PID())

	for ev := range proc.Events() {
		switch ev.Kind {
		case EventStdout, EventStderr:
			s.output(log, runID, ev)
		case EventError:
			log.Warnf("sidecar process error: %s", ev.Err)
			s.exited(gen, fmt.Sprintf("process error: %s", ev.Err), true)
			return
		case EventTerminated:
			log.Infof("sidecar terminated with code: %s", formatCode(ev.Code))
			abnormal := ev.Code == nil || *ev.Code != 0
			s.exited(gen, fmt.Sprintf("process terminated with code: %s", formatCode(ev.Code)), abnormal)
			return
		default:
			log.Debugf("ignoring %s event", ev.Kind)
		}
	}

	log.Debug("event stream closed without exit status")
	s.exited(gen, "process terminated with code: unknown", true)
}

func (s *Supervisor) output(log *zap.SugaredLogger, runID string, ev Event) {
	line := OutputLine{
		RunID:  runID,
		Stream: ev.Kind.String(),
		Line:   string(ev.Line),
	}
	log.Infow("sidecar output", "stream", line.Stream, "line", line.Line)
	if s.onOutput != nil {
		s.onOutput(line)
	}
}

func (s *Supervisor) exited(gen uint64, msg string, recordErr bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if gen != s.gen || !s.running {
		return
	}
	s.running = false
	s.proc = nil
	if recordErr {
		s.lastErr = &msg
	}
}
