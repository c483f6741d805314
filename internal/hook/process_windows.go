//go:build windows

package hook

import "os/exec"

func prepareCommand(cmd *exec.Cmd, pty bool) {
	cmd.WaitDelay = killGracePeriod
}
