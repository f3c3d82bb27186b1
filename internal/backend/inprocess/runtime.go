// Package inprocess implements the in-process backend: each agent runs as a
// task inside this process against an isolated view of the session
// configuration, so no terminal multiplexer is needed.
package inprocess

import (
	"context"
	"maps"

	"github.com/kandev/agentmux/internal/backend"
)

// GeneratorConfig identifies the model provider a task talks to.
type GeneratorConfig struct {
	AuthType string
	APIKey   string
	BaseURL  string
	Model    string
}

// RuntimeConfig is the session configuration view handed to a task.
type RuntimeConfig interface {
	SessionID() string
	WorkingDir() string
	TargetDir() string
	WorkspaceContext() *WorkspaceContext
	FileDiscovery() *FileDiscovery
	ToolRegistry() *ToolRegistry
	Generator() GeneratorConfig
	ApprovalMode() string
	MaxSessionTurns() int
	Debug() bool
	// Setting returns an opaque host setting.
	Setting(key string) (any, bool)
}

// RunState is the terminal or current state of a task.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// Task is one running in-process agent.
type Task interface {
	ID() string
	// Done is closed once the task reached a terminal state.
	Done() <-chan struct{}
	State() RunState
	// Abort requests cancellation. It does not wait.
	Abort()
	SendInput(data string) error
}

// TaskFactory starts tasks. The agent-core runtime implements it.
type TaskFactory interface {
	StartTask(ctx context.Context, cfg RuntimeConfig, spec backend.RuntimeSpec) (Task, error)
}

// SessionOptions populate a SessionConfig.
type SessionOptions struct {
	SessionID       string
	WorkingDir      string
	TargetDir       string
	Generator       GeneratorConfig
	ApprovalMode    string
	MaxSessionTurns int
	Debug           bool
	Settings        map[string]any
	// Tools holds tools already discovered for the session. A new registry is
	// created when nil.
	Tools *ToolRegistry
}

// SessionConfig is the shared, session-wide RuntimeConfig agents derive from.
type SessionConfig struct {
	opts      SessionOptions
	workspace *WorkspaceContext
	discovery *FileDiscovery
	tools     *ToolRegistry
}

var _ RuntimeConfig = (*SessionConfig)(nil)

// NewSessionConfig creates the session configuration.
func NewSessionConfig(opts SessionOptions) *SessionConfig {
	if opts.TargetDir == "" {
		opts.TargetDir = opts.WorkingDir
	}
	opts.Settings = maps.Clone(opts.Settings)
	tools := opts.Tools
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &SessionConfig{
		opts:      opts,
		workspace: NewWorkspaceContext(opts.WorkingDir),
		discovery: NewFileDiscovery(opts.WorkingDir),
		tools:     tools,
	}
}

func (c *SessionConfig) SessionID() string                   { return c.opts.SessionID }
func (c *SessionConfig) WorkingDir() string                  { return c.opts.WorkingDir }
func (c *SessionConfig) TargetDir() string                   { return c.opts.TargetDir }
func (c *SessionConfig) WorkspaceContext() *WorkspaceContext { return c.workspace }
func (c *SessionConfig) FileDiscovery() *FileDiscovery       { return c.discovery }
func (c *SessionConfig) ToolRegistry() *ToolRegistry         { return c.tools }
func (c *SessionConfig) Generator() GeneratorConfig          { return c.opts.Generator }
func (c *SessionConfig) ApprovalMode() string                { return c.opts.ApprovalMode }
func (c *SessionConfig) MaxSessionTurns() int                { return c.opts.MaxSessionTurns }
func (c *SessionConfig) Debug() bool                         { return c.opts.Debug }

func (c *SessionConfig) Setting(key string) (any, bool) {
	v, ok := c.opts.Settings[key]
	return v, ok
}
