package ptyterm

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/tuzig/vt10x"

	"github.com/kandev/agentmux/internal/backend"
)

// escapeSeq matches CSI, OSC and two-byte escape sequences.
var escapeSeq = regexp.MustCompile(`\x1b(?:\[[0-?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-Z\\-_])`)

// screen is an agent's renderable terminal: a vt10x emulator for the visible
// grid plus a bounded history of completed output lines.
type screen struct {
	mu         sync.Mutex
	term       vt10x.Terminal
	cols, rows int

	maxLines int
	lines    []string
	partial  bytes.Buffer
}

func newScreen(cols, rows, maxLines int) *screen {
	return &screen{
		term:     vt10x.New(vt10x.WithSize(cols, rows)),
		cols:     cols,
		rows:     rows,
		maxLines: maxLines,
	}
}

// Write feeds PTY output to the emulator and the line history.
func (s *screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(p)
	_, _ = s.term.Write(p)

	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			s.partial.Write(p)
			break
		}
		s.partial.Write(p[:i])
		s.pushLocked(s.partial.String())
		s.partial.Reset()
		p = p[i+1:]
	}
	return n, nil
}

func (s *screen) pushLocked(raw string) {
	if s.maxLines <= 0 {
		return
	}
	line := strings.TrimSuffix(escapeSeq.ReplaceAllString(raw, ""), "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	s.lines = append(s.lines, line)
	if over := len(s.lines) - s.maxLines; over > 0 {
		s.lines = append(s.lines[:0:0], s.lines[over:]...)
	}
}

func (s *screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term.Resize(cols, rows)
	s.cols, s.rows = cols, rows
}

// ScrollbackLength is the number of history lines above the visible grid.
func (s *screen) ScrollbackLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(0, len(s.lines)-s.rows)
}

// Snapshot renders the grid for offset 0, or a rows-high window of history
// ending offset lines above the newest line.
func (s *screen) Snapshot(offset int) *backend.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset <= 0 {
		return s.gridLocked()
	}

	offset = min(offset, max(0, len(s.lines)-s.rows))
	if offset == 0 {
		return s.gridLocked()
	}
	end := len(s.lines) - offset
	start := max(0, end-s.rows)
	lines := make([]string, s.rows)
	copy(lines, s.lines[start:end])

	cur := s.term.Cursor()
	return &backend.Snapshot{
		Lines:        lines,
		CursorX:      cur.X,
		CursorY:      cur.Y + offset,
		Cols:         s.cols,
		Rows:         s.rows,
		ScrollOffset: offset,
	}
}

func (s *screen) gridLocked() *backend.Snapshot {
	lines := make([]string, s.rows)
	row := make([]rune, s.cols)
	for y := 0; y < s.rows; y++ {
		for x := 0; x < s.cols; x++ {
			ch := s.term.Cell(x, y).Char
			if ch == 0 {
				ch = ' '
			}
			row[x] = ch
		}
		lines[y] = strings.TrimRight(string(row), " ")
	}
	cur := s.term.Cursor()
	return &backend.Snapshot{
		Lines:   lines,
		CursorX: cur.X,
		CursorY: cur.Y,
		Cols:    s.cols,
		Rows:    s.rows,
	}
}
