//go:build !windows

package hook

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

func startPty(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}

// isPtyClosed reports the EIO Linux returns once the child side of the
// terminal is gone.
func isPtyClosed(err error) bool {
	return errors.Is(err, syscall.EIO)
}
