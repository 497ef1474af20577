//go:build windows

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"strconv"
)

// Windows has no SIGTERM; Kill is TerminateProcess.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func killPIDCommand(ctx context.Context, pid int) *exec.Cmd {
	return exec.CommandContext(ctx, "taskkill", "/F", "/PID", strconv.Itoa(pid))
}
