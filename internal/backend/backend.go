// Package backend defines the execution-substrate contract shared by every
// agent backend, plus the agent table and wait helpers the variants build on.
package backend

import (
	"context"
	"time"
)

// Kind identifies an execution substrate.
type Kind string

const (
	KindTmux      Kind = "tmux"
	KindInProcess Kind = "in_process"
	KindPTY       Kind = "pty"
)

// SignalStopped is reported to the exit callback for agents ended by StopAgent or StopAll.
const SignalStopped = "SIGTERM"

// ExitFunc is the single exit notifier. code is nil when the substrate
// reports no exit code; signal is "" unless the agent was ended by one.
// It runs on backend goroutines and must not wait for a spawn to complete.
// It may call StopAgent, StopAll or Cleanup; a Cleanup made from inside the
// callback does not wait for the goroutine that is running the callback.
type ExitFunc func(agentID string, code *int, signal string)

// SpawnConfig describes one agent. It is treated as immutable once passed to
// SpawnAgent.
type SpawnConfig struct {
	AgentID string
	Cwd     string
	Env     map[string]string

	// Command and Args are the process payload for pane and pty backends.
	Command string
	Args    []string

	// Runtime is the payload for the in-process backend.
	Runtime *RuntimeSpec
}

// RuntimeSpec configures an in-process agent task.
type RuntimeSpec struct {
	Prompt      string
	Model       string
	MaxTurns    int
	MaxDuration time.Duration
	// Tools restricts the agent to the named tools. Empty means all tools.
	Tools         []string
	AuthOverrides *AuthOverrides
}

// AuthOverrides selects a model provider identity different from the session's.
type AuthOverrides struct {
	AuthType string
	APIKey   string
	BaseURL  string
	Model    string
}

// Snapshot is a rendered view of an agent's terminal.
type Snapshot struct {
	Lines        []string
	CursorX      int
	CursorY      int
	Cols         int
	Rows         int
	ScrollOffset int
}

// Backend is implemented by every execution substrate.
//
// Usage errors (see errors.go) are the only errors returned. Substrate
// failures during spawn are recorded as an exit with code 1, and teardown
// failures are logged.
type Backend interface {
	Name() Kind

	// Init prepares substrate-wide state. A second call is a no-op.
	Init(ctx context.Context) error

	// SpawnAgent creates one agent and blocks until its substrate session exists
	// (or failed and was recorded as exited).
	SpawnAgent(ctx context.Context, cfg SpawnConfig) error

	// SpawnAgentAsync validates cfg, schedules the spawn and returns a channel
	// closed once the spawn completed.
	SpawnAgentAsync(ctx context.Context, cfg SpawnConfig) (<-chan struct{}, error)

	// StopAgent marks the agent exited and fires the exit callback before
	// returning. Substrate teardown continues in the background.
	StopAgent(agentID string)
	StopAll()

	// Cleanup releases every resource. It is terminal and idempotent.
	Cleanup(ctx context.Context)

	SetOnAgentExit(fn ExitFunc)

	// WaitForAll reports whether every agent, including in-flight spawns,
	// exited before timeout or ctx expired. timeout <= 0 waits without limit.
	// It never stops agents.
	WaitForAll(ctx context.Context, timeout time.Duration) bool

	SwitchTo(agentID string) error
	SwitchToNext()
	SwitchToPrevious()
	ActiveAgentID() string

	ForwardInput(data string) bool
	WriteToAgent(agentID, data string) bool

	ActiveSnapshot() *Snapshot
	AgentSnapshot(agentID string, scrollOffset int) *Snapshot
	AgentScrollbackLength(agentID string) int

	ResizeAll(cols, rows int)
	AttachHint() string
}
