// Package tmux implements the pane-driven backend: each agent runs in its own
// tmux pane and reports completion through an exit-marker file.
package tmux

import "context"

// SplitRequest describes a new pane.
type SplitRequest struct {
	Cwd     string
	Command string
	// Horizontal places the new pane beside the source instead of below it.
	Horizontal bool
}

// PaneInfo is the geometry and cursor of a pane.
type PaneInfo struct {
	Cols    int
	Rows    int
	CursorX int
	CursorY int
}

// Driver is the subset of the multiplexer the backend needs. Client is the
// tmux implementation; tests use a fake.
type Driver interface {
	// Available returns an error when the multiplexer cannot be used.
	Available(ctx context.Context) error
	// CurrentPane returns the pane this process runs in, or "" outside tmux.
	CurrentPane(ctx context.Context) (string, error)
	// NewSession creates a detached session and returns its first pane.
	NewSession(ctx context.Context, name, cwd string) (string, error)
	// SplitPane splits target and returns the new pane id.
	SplitPane(ctx context.Context, target string, req SplitRequest) (string, error)
	KillPane(ctx context.Context, pane string) error
	KillSession(ctx context.Context, name string) error
	SelectPane(ctx context.Context, pane string) error
	// SendKeys types data into the pane literally.
	SendKeys(ctx context.Context, pane, data string) error
	// CapturePane returns the lines from start to end, where 0 is the first
	// visible line and negative numbers reach into history.
	CapturePane(ctx context.Context, pane string, start, end int) ([]string, error)
	HistorySize(ctx context.Context, pane string) (int, error)
	PaneInfo(ctx context.Context, pane string) (PaneInfo, error)
	// SetRemainOnExit keeps a pane open after its command finished.
	SetRemainOnExit(ctx context.Context, pane string, on bool) error
}
