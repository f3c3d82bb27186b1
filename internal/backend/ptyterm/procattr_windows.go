//go:build windows

package ptyterm

import (
	"os/exec"
	"strconv"
)

// setProcGroup is a no-op: ConPTY creates the process, not exec.Cmd.
func setProcGroup(cmd *exec.Cmd) {}

// terminateProcessGroup asks the process tree to close. Without /F taskkill
// sends WM_CLOSE, the nearest Windows equivalent of SIGTERM.
func terminateProcessGroup(pid int) error {
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
}

// killProcessGroup force-kills the process tree.
func killProcessGroup(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}
