package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type splitCall struct {
	source string
	pane   string
	req    SplitRequest
}

type fakeDriver struct {
	mu          sync.Mutex
	currentPane string
	nextPane    int
	splits      []splitCall
	killed      []string
	sessions    []string
	killedSess  []string
	selected    []string
	sent        map[string][]string
	failSplit   map[string]bool // agent markers whose split fails
	captures    map[string][]string
	history     map[string]int
	// splitGate, when set, holds every SplitPane until it is closed.
	// splitHeld receives once per held call.
	splitGate chan struct{}
	splitHeld chan struct{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		sent:      make(map[string][]string),
		failSplit: make(map[string]bool),
		captures:  make(map[string][]string),
		history:   make(map[string]int),
	}
}

func (f *fakeDriver) Available(ctx context.Context) error { return nil }

func (f *fakeDriver) CurrentPane(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentPane, nil
}

func (f *fakeDriver) newPaneLocked() string {
	f.nextPane++
	return fmt.Sprintf("%%%d", f.nextPane)
}

func (f *fakeDriver) NewSession(ctx context.Context, name, cwd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, name)
	return f.newPaneLocked(), nil
}

func (f *fakeDriver) SplitPane(ctx context.Context, target string, req SplitRequest) (string, error) {
	f.mu.Lock()
	gate, held := f.splitGate, f.splitHeld
	f.mu.Unlock()
	if gate != nil {
		if held != nil {
			held <- struct{}{}
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.failSplit {
		if containsMarker(req.Command, key) {
			return "", errors.New("split-window: no space for new pane")
		}
	}
	pane := f.newPaneLocked()
	f.splits = append(f.splits, splitCall{source: target, pane: pane, req: req})
	return pane, nil
}

func containsMarker(command, agentID string) bool {
	return agentID != "" && strings.Contains(command, "/"+agentID+".tmp")
}

func (f *fakeDriver) KillPane(ctx context.Context, pane string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pane)
	return nil
}

func (f *fakeDriver) KillSession(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killedSess = append(f.killedSess, name)
	return nil
}

func (f *fakeDriver) SelectPane(ctx context.Context, pane string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, pane)
	return nil
}

func (f *fakeDriver) SendKeys(ctx context.Context, pane, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[pane] = append(f.sent[pane], data)
	return nil
}

func (f *fakeDriver) CapturePane(ctx context.Context, pane string, start, end int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures[pane], nil
}

func (f *fakeDriver) HistorySize(ctx context.Context, pane string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[pane], nil
}

func (f *fakeDriver) PaneInfo(ctx context.Context, pane string) (PaneInfo, error) {
	return PaneInfo{Cols: 80, Rows: 24, CursorX: 2, CursorY: 3}, nil
}

func (f *fakeDriver) SetRemainOnExit(ctx context.Context, pane string, on bool) error { return nil }

func (f *fakeDriver) splitCalls() []splitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]splitCall(nil), f.splits...)
}

func (f *fakeDriver) killedPanes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.killed...)
}
