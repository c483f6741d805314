//go:build !windows

package hook

import (
	"errors"
	"os/exec"
	"syscall"
)

// prepareCommand puts the child in its own process group so cancellation
// reaches everything it spawned. A pty child already leads a new session.
func prepareCommand(cmd *exec.Cmd, pty bool) {
	if !pty {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	cmd.WaitDelay = killGracePeriod
}
