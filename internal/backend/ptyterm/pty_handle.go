package ptyterm

import (
	"io"
	"math"
)

// ptyHandle is the master side of an agent's pseudo-terminal.
// On Unix it wraps creack/pty, on Windows a ConPTY pseudo-console.
type ptyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows int) error
}

// winsizeDim converts a dimension for the 16-bit window size fields.
func winsizeDim(n int) uint16 {
	return uint16(min(max(n, 1), math.MaxUint16))
}
