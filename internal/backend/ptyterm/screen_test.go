package ptyterm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, s *screen, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := fmt.Fprintf(s, "line %d\r\n", i)
		require.NoError(t, err)
	}
}

func TestScreenGrid(t *testing.T) {
	s := newScreen(20, 3, 100)
	n, err := s.Write([]byte("hello\r\nworld\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	snap := s.Snapshot(0)
	require.NotNil(t, snap)
	assert.Equal(t, []string{"hello", "world", ""}, snap.Lines)
	assert.Equal(t, 0, snap.CursorX)
	assert.Equal(t, 2, snap.CursorY)
	assert.Equal(t, 20, snap.Cols)
	assert.Equal(t, 3, snap.Rows)
	assert.Equal(t, 0, snap.ScrollOffset)
}

func TestScreenScrollback(t *testing.T) {
	s := newScreen(20, 3, 100)
	writeLines(t, s, 10)

	assert.Equal(t, 7, s.ScrollbackLength())

	snap := s.Snapshot(2)
	assert.Equal(t, []string{"line 5", "line 6", "line 7"}, snap.Lines)
	assert.Equal(t, 2, snap.ScrollOffset)

	// Offsets past the history clamp to its top.
	snap = s.Snapshot(100)
	assert.Equal(t, []string{"line 0", "line 1", "line 2"}, snap.Lines)
	assert.Equal(t, 7, snap.ScrollOffset)
}

func TestScreenScrollbackBounded(t *testing.T) {
	s := newScreen(20, 3, 5)
	writeLines(t, s, 10)

	assert.Equal(t, 2, s.ScrollbackLength())
	snap := s.Snapshot(2)
	assert.Equal(t, []string{"line 5", "line 6", "line 7"}, snap.Lines)
}

func TestScreenHistoryStripsEscapes(t *testing.T) {
	s := newScreen(20, 1, 10)
	_, err := s.Write([]byte("\x1b[31mred\x1b[0m\r\n\x1b]0;title\x07plain\r\nabc\rxy\r\n"))
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []string{"red", "plain", "xy"}, s.lines)
}

func TestScreenPartialLines(t *testing.T) {
	s := newScreen(20, 1, 10)
	_, _ = s.Write([]byte("par"))
	_, _ = s.Write([]byte("tial\r\nrest"))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []string{"partial"}, s.lines)
	assert.Equal(t, "rest", s.partial.String())
}

func TestScreenResize(t *testing.T) {
	s := newScreen(20, 3, 10)
	s.Resize(40, 5)

	snap := s.Snapshot(0)
	assert.Equal(t, 40, snap.Cols)
	assert.Equal(t, 5, snap.Rows)
	assert.Len(t, snap.Lines, 5)
}
