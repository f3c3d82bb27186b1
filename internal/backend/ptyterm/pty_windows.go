//go:build windows

package ptyterm

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/UserExistsError/conpty"
)

type windowsPTY struct {
	cpty *conpty.ConPty
}

func (p *windowsPTY) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *windowsPTY) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *windowsPTY) Close() error                { return p.cpty.Close() }

func (p *windowsPTY) Resize(cols, rows int) error {
	return p.cpty.Resize(cols, rows)
}

// startAgentPTY launches cmd inside a ConPTY. ConPTY creates the process
// itself, so cmd.Start is never called; cmd.Process is filled in from the
// pseudo-console's pid so waiting and signalling work as on Unix.
func startAgentPTY(cmd *exec.Cmd, cols, rows int) (ptyHandle, error) {
	line := joinCommandLine(cmd.Args)
	if len(cmd.Args) == 0 {
		line = quoteWindowsArg(cmd.Path)
	}

	opts := []conpty.ConPtyOption{conpty.ConPtyDimensions(cols, rows)}
	if cmd.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(cmd.Dir))
	}
	if cmd.Env != nil {
		opts = append(opts, conpty.ConPtyEnv(cmd.Env))
	}

	cpty, err := conpty.Start(line, opts...)
	if err != nil {
		return nil, err
	}

	pid := cpty.Pid()
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		_ = cpty.Close()
		return nil, fmt.Errorf("failed to find conpty process %d: %w", pid, err)
	}
	cmd.Process = proc

	return &windowsPTY{cpty: cpty}, nil
}
