//go:build !windows

package ptyterm

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

type unixPTY struct {
	f *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) Resize(cols, rows int) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: winsizeDim(cols), Rows: winsizeDim(rows)})
}

// startAgentPTY starts cmd attached to a new PTY of the given size.
// pty.StartWithSize calls cmd.Start, so cmd.Process is set on success.
func startAgentPTY(cmd *exec.Cmd, cols, rows int) (ptyHandle, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: winsizeDim(cols),
		Rows: winsizeDim(rows),
	})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}
