//go:build windows

package backend

import (
	"errors"
	"io"
	"os/exec"
)

func startWithPTY(*exec.Cmd) (io.ReadCloser, error) {
	return nil, errors.New("pty output capture is not supported on windows")
}
