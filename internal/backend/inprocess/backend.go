package inprocess

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentmux/internal/backend"
	"github.com/kandev/agentmux/internal/common/appctx"
	"github.com/kandev/agentmux/internal/common/constants"
	"github.com/kandev/agentmux/internal/common/logger"
	"github.com/kandev/agentmux/internal/credentials"
	"github.com/kandev/agentmux/internal/tracing"
)

// Options configures the in-process backend.
type Options struct {
	// Session is the shared configuration every agent derives from.
	Session RuntimeConfig
	Factory TaskFactory
	// Credentials resolves provider environment variables for auth overrides.
	// May be nil. Cleanup clears its cache.
	Credentials     *credentials.Manager
	PollInterval    time.Duration
	TeardownTimeout time.Duration
}

type agentHandle struct {
	task   Task
	config *agentConfig

	// settled is closed after the exit of task has been recorded.
	settled chan struct{}
	// exiting is set while the exit callback for this agent runs.
	exiting atomic.Bool
}

// Backend runs agents as in-process tasks. Exits are pushed from each task's
// Done channel rather than polled.
type Backend struct {
	opts   Options
	logger *logger.Logger
	table  *backend.Table[*agentHandle]

	mu          sync.Mutex
	initialized bool
	closed      bool

	spawns sync.WaitGroup
	// failing counts spawn-failure exit callbacks in progress.
	failing atomic.Int32
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend creates an in-process backend. Call Init before spawning.
func NewBackend(opts Options, log *logger.Logger) *Backend {
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.StatusPollInterval
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = constants.TeardownTimeout
	}
	return &Backend{
		opts:   opts,
		logger: log.WithComponent("inprocess-backend"),
		table:  backend.NewTable[*agentHandle](),
	}
}

func (b *Backend) Name() backend.Kind {
	return backend.KindInProcess
}

func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return backend.ErrClosed
	}
	if b.initialized {
		return nil
	}
	if b.opts.Session == nil {
		return errors.New("in-process backend requires a session config")
	}
	if b.opts.Factory == nil {
		return errors.New("in-process backend requires a task factory")
	}
	b.initialized = true
	b.logger.Info("in-process backend initialized", zap.String("session_id", b.opts.Session.SessionID()))
	return nil
}

func (b *Backend) SpawnAgent(ctx context.Context, cfg backend.SpawnConfig) error {
	if err := b.reserve(cfg); err != nil {
		return err
	}
	defer b.spawns.Done()
	b.doSpawn(ctx, cfg)
	return nil
}

func (b *Backend) SpawnAgentAsync(ctx context.Context, cfg backend.SpawnConfig) (<-chan struct{}, error) {
	if err := b.reserve(cfg); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer b.spawns.Done()
		b.doSpawn(ctx, cfg)
	}()
	return done, nil
}

// reserve validates cfg and claims its agent ID. On success the caller owns
// one count of b.spawns.
func (b *Backend) reserve(cfg backend.SpawnConfig) error {
	if err := backend.ValidateRuntimeConfig(cfg); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	if !b.initialized {
		return backend.ErrNotInitialized
	}
	if err := b.table.Reserve(cfg.AgentID); err != nil {
		return err
	}
	b.spawns.Add(1)
	return nil
}

func (b *Backend) doSpawn(ctx context.Context, cfg backend.SpawnConfig) {
	log := b.logger.WithAgentID(cfg.AgentID)
	ctx, span := tracing.TraceSpawn(ctx, string(backend.KindInProcess), cfg.AgentID)
	defer span.End()

	ac, err := b.buildAgentConfig(ctx, cfg)
	if err != nil {
		tracing.TraceResult(span, err)
		log.Warn("failed to build agent context", zap.Error(err))
		b.recordSpawnFailure(cfg.AgentID)
		return
	}

	// Tasks outlive the spawn call; only Abort ends them early.
	task, err := b.opts.Factory.StartTask(context.WithoutCancel(ctx), ac, *cfg.Runtime)
	if err != nil {
		tracing.TraceResult(span, err)
		log.Warn("failed to start agent task", zap.Error(err))
		if stopErr := ac.ToolRegistry().Stop(ctx); stopErr != nil {
			log.Warn("failed to stop tool registry", zap.Error(stopErr))
		}
		b.recordSpawnFailure(cfg.AgentID)
		return
	}

	h := &agentHandle{task: task, config: ac, settled: make(chan struct{})}
	b.table.Register(cfg.AgentID, h)
	go b.watch(cfg.AgentID, h)

	log.Info("agent started",
		zap.String("task_id", task.ID()),
		zap.String("working_dir", ac.WorkingDir()),
		zap.String("auth_type", ac.Generator().AuthType),
		zap.Int("tools", len(ac.ToolRegistry().Names())))
}

// recordSpawnFailure records agentID as exited with code 1. The exit
// callback may call Cleanup, which then must not wait for this spawn.
func (b *Backend) recordSpawnFailure(agentID string) {
	b.failing.Add(1)
	defer b.failing.Add(-1)
	b.table.RegisterExited(agentID, nil, 1)
}

// buildAgentConfig derives the agent's isolated context from the session.
func (b *Backend) buildAgentConfig(ctx context.Context, cfg backend.SpawnConfig) (*agentConfig, error) {
	parent := b.opts.Session

	cwd := cfg.Cwd
	if cwd == "" {
		cwd = parent.WorkingDir()
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	workspace := NewWorkspaceContext(abs)
	discovery := NewFileDiscovery(abs)

	tools := NewToolRegistry()
	RegisterCoreTools(tools, workspace, discovery)
	copied := tools.CopyDiscoveredFrom(parent.ToolRegistry())
	if len(cfg.Runtime.Tools) > 0 {
		tools.Restrict(cfg.Runtime.Tools)
	}

	var generator *GeneratorConfig
	if cfg.Runtime.AuthOverrides != nil {
		g := ResolveGenerator(ctx, parent.Generator(), cfg.Runtime.AuthOverrides, b.opts.Credentials)
		generator = &g
	}

	b.logger.Debug("agent context built",
		zap.String("agent_id", cfg.AgentID),
		zap.Int("discovered_tools", copied))

	return newAgentConfig(parent, configOverrides{
		workingDir: abs,
		targetDir:  abs,
		workspace:  workspace,
		discovery:  discovery,
		tools:      tools,
		generator:  generator,
	}), nil
}

func (b *Backend) watch(agentID string, h *agentHandle) {
	defer close(h.settled)
	<-h.task.Done()
	state := h.task.State()
	code := exitCodeFor(state)
	h.exiting.Store(true)
	defer h.exiting.Store(false)
	if b.table.MarkExited(agentID, code, "") {
		b.logger.Info("agent finished", zap.String("agent_id", agentID), zap.String("state", string(state)))
	}
}

func exitCodeFor(state RunState) *int {
	var code int
	switch state {
	case RunStateCompleted:
		code = 0
	case RunStateFailed:
		code = 1
	default:
		return nil
	}
	return &code
}

func (b *Backend) StopAgent(agentID string) {
	h, ok := b.table.RunningHandle(agentID)
	if !ok {
		return
	}
	if !b.table.MarkExited(agentID, nil, backend.SignalStopped) {
		return
	}
	go h.task.Abort()
}

func (b *Backend) StopAll() {
	for _, s := range b.table.Running() {
		b.StopAgent(s.AgentID)
	}
}

// Cleanup aborts every task, waits for all of them to settle, then stops each
// agent's tool registry.
func (b *Backend) Cleanup(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	teardownCtx, cancel := appctx.Detached(ctx.Done(), b.opts.TeardownTimeout)
	defer cancel()

	if b.failing.Load() > 0 {
		b.logger.Debug("cleanup called from a spawn exit callback, not waiting for in-flight spawns")
	} else {
		spawnsDone := make(chan struct{})
		go func() {
			b.spawns.Wait()
			close(spawnsDone)
		}()
		select {
		case <-spawnsDone:
		case <-teardownCtx.Done():
			b.logger.Warn("in-flight spawns did not finish before cleanup deadline")
		}
	}

	sessions := b.table.Sessions()
	_, span := tracing.TraceCleanup(ctx, string(backend.KindInProcess), len(sessions))
	defer span.End()

	var g errgroup.Group
	for _, s := range sessions {
		if s.Handle == nil {
			continue
		}
		h := s.Handle
		agentID := s.AgentID
		h.task.Abort()
		g.Go(func() error {
			// The task is over once its exit callback runs, and the callback
			// may be the caller of Cleanup.
			if h.exiting.Load() {
				return nil
			}
			select {
			case <-h.settled:
				return nil
			case <-teardownCtx.Done():
				return fmt.Errorf("agent %s did not stop: %w", agentID, teardownCtx.Err())
			}
		})
	}
	if err := g.Wait(); err != nil {
		tracing.TraceResult(span, err)
		b.logger.Warn("not every agent task settled", zap.Error(err))
	}

	for _, s := range sessions {
		if s.Handle == nil {
			continue
		}
		if err := s.Handle.config.ToolRegistry().Stop(teardownCtx); err != nil {
			b.logger.Warn("failed to stop tool registry", zap.String("agent_id", s.AgentID), zap.Error(err))
		}
	}

	if b.opts.Credentials != nil {
		b.opts.Credentials.ClearCache()
	}
	b.table.Reset()
	b.logger.Info("in-process backend cleaned up", zap.Int("agents", len(sessions)))
}

func (b *Backend) SetOnAgentExit(fn backend.ExitFunc) {
	b.table.SetOnExit(fn)
}

func (b *Backend) WaitForAll(ctx context.Context, timeout time.Duration) bool {
	return backend.WaitForAll(ctx, b.table.AllExited, b.opts.PollInterval, timeout)
}

func (b *Backend) SwitchTo(agentID string) error {
	return b.table.SwitchTo(agentID)
}

func (b *Backend) SwitchToNext() {
	b.table.SwitchToNext()
}

func (b *Backend) SwitchToPrevious() {
	b.table.SwitchToPrevious()
}

func (b *Backend) ActiveAgentID() string {
	return b.table.Active()
}

func (b *Backend) ForwardInput(data string) bool {
	active := b.table.Active()
	if active == "" {
		return false
	}
	return b.WriteToAgent(active, data)
}

func (b *Backend) WriteToAgent(agentID, data string) bool {
	h, ok := b.table.RunningHandle(agentID)
	if !ok {
		return false
	}
	if err := h.task.SendInput(data); err != nil {
		b.logger.Debug("failed to send input", zap.String("agent_id", agentID), zap.Error(err))
		return false
	}
	return true
}

// Tasks have no terminal buffer.
func (b *Backend) ActiveSnapshot() *backend.Snapshot           { return nil }
func (b *Backend) AgentSnapshot(string, int) *backend.Snapshot { return nil }
func (b *Backend) AgentScrollbackLength(string) int            { return 0 }
func (b *Backend) ResizeAll(cols, rows int)                    {}
func (b *Backend) AttachHint() string                          { return "" }

// AgentConfig returns the isolated runtime config of agentID.
func (b *Backend) AgentConfig(agentID string) (RuntimeConfig, bool) {
	s, ok := b.table.Get(agentID)
	if !ok || s.Handle == nil {
		return nil, false
	}
	return s.Handle.config, true
}
