package supervisor

import (
	"bytes"
	"context"
	"fmt"
)

// killPID terminates a process by PID using the platform's kill utility.
// This is only used when the launch handle is unavailable, since PIDs can be reused.
func killPID(ctx context.Context, pid int) error {
	out, err := killPIDCommand(ctx, pid).CombinedOutput()
	if err != nil {
		out = bytes.TrimSpace(out)
		if len(out) > 0 {
			return fmt.Errorf("killing pid %d: %w: %s", pid, err, out)
		}
		return fmt.Errorf("killing pid %d: %w", pid, err)
	}
	return nil
}
