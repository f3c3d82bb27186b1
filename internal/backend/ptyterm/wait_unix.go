//go:build !windows

package ptyterm

import (
	"errors"
	"os/exec"
	"syscall"
)

// waitAgent waits for the agent process and decodes how it ended. A process
// killed by a signal reports 128+signo and the signal name.
func waitAgent(cmd *exec.Cmd) (code int, signal string, err error) {
	err = cmd.Wait()
	if err == nil {
		return 0, "", nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, "", err
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 1, "", err
	}
	if status.Signaled() {
		return 128 + int(status.Signal()), signalName(status.Signal()), nil
	}
	return status.ExitStatus(), "", nil
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGABRT:
		return "SIGABRT"
	default:
		return sig.String()
	}
}
