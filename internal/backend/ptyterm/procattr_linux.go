//go:build linux

package ptyterm

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the agent in its own process group so stop signals reach
// everything it started. Pdeathsig takes the agent down if we die without
// cleaning up.
//
// pty.StartWithSize sets Setsid and Setctty on top of this attribute, and a
// session leader cannot also call setpgid, so Setpgid is left off: the new
// session is already a new process group with the agent as its leader.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
}

// terminateProcessGroup sends SIGTERM to the agent's process group.
func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup sends SIGKILL to the agent's process group.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
