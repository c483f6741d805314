//go:build windows

package hook

import (
	"errors"
	"os"
	"os/exec"
)

var errPtyUnsupported = errors.New("pty mode is not supported on windows")

func startPty(cmd *exec.Cmd) (*os.File, error) {
	return nil, errPtyUnsupported
}

func isPtyClosed(err error) bool {
	return false
}
