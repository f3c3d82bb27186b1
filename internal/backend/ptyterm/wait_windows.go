//go:build windows

package ptyterm

import "os/exec"

// waitAgent waits on cmd.Process directly: ConPTY started the process, so
// cmd.Wait has nothing to wait for.
func waitAgent(cmd *exec.Cmd) (code int, signal string, err error) {
	state, err := cmd.Process.Wait()
	if err != nil {
		return 1, "", err
	}
	return state.ExitCode(), "", nil
}
