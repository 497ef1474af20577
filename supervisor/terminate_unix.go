//go:build !windows

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func killPIDCommand(ctx context.Context, pid int) *exec.Cmd {
	return exec.CommandContext(ctx, "kill", strconv.Itoa(pid))
}
