//go:build !windows

package backend

import (
	"io"
	"os/exec"

	"github.com/creack/pty"
)

// startWithPTY starts cmd attached to a pseudo-terminal so the backend
// produces the same colored, line-buffered output it would in a terminal.
// The returned reader carries combined stdout and stderr.
func startWithPTY(cmd *exec.Cmd) (io.ReadCloser, error) {
	// pty.Start sets Setsid, which conflicts with Setpgid.
	cmd.SysProcAttr = nil
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 200, Rows: 50})
	if err != nil {
		return nil, err
	}
	return ptmx, nil
}
