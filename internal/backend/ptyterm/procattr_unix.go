//go:build unix && !linux

package ptyterm

import (
	"os/exec"
	"syscall"
)

// setProcGroup leaves process-group setup to pty.StartWithSize, which makes
// the agent a session (and group) leader. Pdeathsig is Linux only.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{}
}

func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
