//go:build !windows

package backend

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr puts the backend in its own process group so Stop reaches any
// children it spawned.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pgid, err := unix.Getpgid(pid); err == nil && pgid > 0 {
		return unix.Kill(-pgid, sig)
	}
	return unix.Kill(pid, sig)
}

// terminate asks the backend to exit.
func terminate(cmd *exec.Cmd) error {
	return signalGroup(cmd.Process.Pid, unix.SIGTERM)
}

// forceKill kills the backend and its process group.
func forceKill(cmd *exec.Cmd) error {
	return signalGroup(cmd.Process.Pid, unix.SIGKILL)
}
