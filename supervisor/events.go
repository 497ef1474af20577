package supervisor

import "fmt"

type EventKind int

const (
	EventStdout EventKind = iota + 1
	EventStderr
	EventError
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventError:
		return "error"
	case EventTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is a single item from a child's event stream.
// Line is set for output events, Err for EventError, and Code for EventTerminated.
// A nil Code means the exit code is unknown, e.g. the child was killed by a signal.
type Event struct {
	Kind EventKind
	Line []byte
	Err  error
	Code *int
}

// OutputLine is a line of child output tagged with the stream it came from.
type OutputLine struct {
	RunID  string
	Stream string
	Line   string
}

func exitCode(code int) *int { return &code }

func formatCode(code *int) string {
	if code == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *code)
}
