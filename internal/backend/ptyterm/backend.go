// Package ptyterm runs each agent's command under a pseudo-terminal owned by
// this process. Output is rendered into a vt10x screen with a bounded line
// history, so snapshots and scrollback work without an external multiplexer.
package ptyterm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentmux/internal/backend"
	"github.com/kandev/agentmux/internal/common/appctx"
	"github.com/kandev/agentmux/internal/common/constants"
	"github.com/kandev/agentmux/internal/common/logger"
	"github.com/kandev/agentmux/internal/tracing"
)

const (
	defaultCols            = 120
	defaultRows            = 40
	defaultScrollbackLines = 5000

	// maxDimension caps cols and rows. Screens allocate a cols*rows grid and
	// the PTY window size fields are 16-bit.
	maxDimension = 1024

	// outputDrainTimeout bounds how long the waiter lets the reader drain
	// buffered output after the process exits.
	outputDrainTimeout = time.Second
)

// Options configures the PTY backend.
type Options struct {
	Cols            int
	Rows            int
	ScrollbackLines int
	// StopGrace is how long a stopped agent's process group gets between
	// SIGTERM and SIGKILL.
	StopGrace       time.Duration
	PollInterval    time.Duration
	TeardownTimeout time.Duration
}

type agentProc struct {
	cmd    *exec.Cmd
	pty    ptyHandle
	screen *screen

	// reaped is closed after the process was waited for and its exit recorded.
	reaped     chan struct{}
	readerDone chan struct{}
	// exiting is set while the exit callback for this process runs.
	exiting atomic.Bool
}

// Backend runs every agent as a child process attached to its own PTY.
// Exits are pushed from cmd.Wait.
type Backend struct {
	opts   Options
	logger *logger.Logger
	table  *backend.Table[*agentProc]

	mu          sync.Mutex
	initialized bool
	closed      bool
	cols, rows  int

	spawns sync.WaitGroup
	// failing counts spawn-failure exit callbacks in progress.
	failing atomic.Int32
	stopCh chan struct{}
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend creates a PTY backend. Call Init before spawning.
func NewBackend(opts Options, log *logger.Logger) *Backend {
	opts.Cols = clampDimension(opts.Cols, defaultCols)
	opts.Rows = clampDimension(opts.Rows, defaultRows)
	if opts.ScrollbackLines < 0 {
		opts.ScrollbackLines = 0
	} else if opts.ScrollbackLines == 0 {
		opts.ScrollbackLines = defaultScrollbackLines
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = constants.StopGracePeriod
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.StatusPollInterval
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = constants.TeardownTimeout
	}
	return &Backend{
		opts:   opts,
		logger: log.WithComponent("pty-backend"),
		table:  backend.NewTable[*agentProc](),
		cols:   opts.Cols,
		rows:   opts.Rows,
		stopCh: make(chan struct{}),
	}
}

func (b *Backend) Name() backend.Kind {
	return backend.KindPTY
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
	b.initialized = true
	b.logger.Info("pty backend initialized", zap.Int("cols", b.cols), zap.Int("rows", b.rows))
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

func (b *Backend) reserve(cfg backend.SpawnConfig) error {
	if err := backend.ValidateProcessConfig(cfg); err != nil {
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
	_, span := tracing.TraceSpawn(ctx, string(backend.KindPTY), cfg.AgentID)
	defer span.End()

	b.mu.Lock()
	cols, rows := b.cols, b.rows
	b.mu.Unlock()

	cmd := exec.Command(cfg.Command, slices.Clone(cfg.Args)...)
	cmd.Dir = cfg.Cwd
	cmd.Env = buildEnv(os.Environ(), cfg.Env)
	setProcGroup(cmd)

	handle, err := startAgentPTY(cmd, cols, rows)
	if err != nil {
		tracing.TraceResult(span, err)
		log.Warn("agent spawn failed", zap.String("command", cfg.Command), zap.Error(err))
		b.recordSpawnFailure(cfg.AgentID)
		return
	}

	p := &agentProc{
		cmd:        cmd,
		pty:        handle,
		screen:     newScreen(cols, rows, b.opts.ScrollbackLines),
		reaped:     make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	b.table.Register(cfg.AgentID, p)

	go b.readOutput(p)
	go b.waitExit(cfg.AgentID, p)

	log.Info("agent spawned", zap.Int("pid", cmd.Process.Pid), zap.String("command", cfg.Command))
}

// recordSpawnFailure records agentID as exited with code 1. The exit
// callback may call Cleanup, which then must not wait for this spawn.
func (b *Backend) recordSpawnFailure(agentID string) {
	b.failing.Add(1)
	defer b.failing.Add(-1)
	b.table.RegisterExited(agentID, nil, 1)
}

// buildEnv appends overrides to base in sorted key order and defaults TERM
// so full-screen programs render.
func buildEnv(base []string, overrides map[string]string) []string {
	env := slices.Clone(base)
	hasTerm := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			hasTerm = true
			break
		}
	}
	if _, ok := overrides["TERM"]; !ok && !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func (b *Backend) readOutput(p *agentProc) {
	defer close(p.readerDone)
	// Reads end with EOF or EIO once the slave side is gone or the master
	// is closed.
	_, _ = io.Copy(p.screen, p.pty)
}

func (b *Backend) waitExit(agentID string, p *agentProc) {
	defer close(p.reaped)

	code, signal, err := waitAgent(p.cmd)

	select {
	case <-p.readerDone:
	case <-time.After(outputDrainTimeout):
	}
	if cerr := p.pty.Close(); cerr != nil {
		b.logger.Debug("failed to close pty", zap.String("agent_id", agentID), zap.Error(cerr))
	}

	if err != nil {
		b.logger.Debug("agent wait returned error", zap.String("agent_id", agentID), zap.Error(err))
	}
	p.exiting.Store(true)
	defer p.exiting.Store(false)
	if b.table.MarkExited(agentID, &code, signal) {
		b.logger.Info("agent exited",
			zap.String("agent_id", agentID),
			zap.Int("exit_code", code),
			zap.String("signal", signal))
	}
}

func (b *Backend) StopAgent(agentID string) {
	p, ok := b.table.RunningHandle(agentID)
	if !ok {
		return
	}
	if !b.table.MarkExited(agentID, nil, backend.SignalStopped) {
		return
	}

	go func() {
		ctx, cancel := appctx.Detached(b.stopCh, b.opts.TeardownTimeout)
		defer cancel()
		if err := b.terminate(ctx, p); err != nil {
			b.logger.Warn("failed to stop agent process",
				zap.String("agent_id", agentID),
				zap.Error(err))
		}
	}()
}

// terminate sends SIGTERM to the agent's process group, then SIGKILL if it is
// still alive after the grace period, and waits until it was reaped.
func (b *Backend) terminate(ctx context.Context, p *agentProc) error {
	select {
	case <-p.reaped:
		return nil
	default:
	}
	// Already waited for; the exit callback may be the caller.
	if p.exiting.Load() {
		return nil
	}

	pid := p.cmd.Process.Pid
	if err := terminateProcessGroup(pid); err != nil && !errors.Is(err, syscall.ESRCH) {
		b.logger.Debug("SIGTERM to process group failed", zap.Int("pid", pid), zap.Error(err))
	}

	grace := time.NewTimer(b.opts.StopGrace)
	defer grace.Stop()
	select {
	case <-p.reaped:
		return nil
	case <-grace.C:
	case <-ctx.Done():
		return fmt.Errorf("process group %d: %w", pid, ctx.Err())
	}

	if err := killProcessGroup(pid); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	select {
	case <-p.reaped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("process group %d not reaped: %w", pid, ctx.Err())
	}
}

func (b *Backend) StopAll() {
	for _, s := range b.table.Running() {
		b.StopAgent(s.AgentID)
	}
}

// Cleanup terminates every agent still alive, waits for each to be reaped
// and empties the table.
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
	_, span := tracing.TraceCleanup(ctx, string(backend.KindPTY), len(sessions))
	defer span.End()

	var g errgroup.Group
	for _, s := range sessions {
		if s.Handle == nil {
			continue
		}
		p := s.Handle
		agentID := s.AgentID
		g.Go(func() error {
			if err := b.terminate(teardownCtx, p); err != nil {
				return fmt.Errorf("agent %s: %w", agentID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tracing.TraceResult(span, err)
		b.logger.Warn("not every agent process was reaped", zap.Error(err))
	}
	close(b.stopCh)

	b.table.Reset()
	b.logger.Info("pty backend cleaned up", zap.Int("agents", len(sessions)))
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
	p, ok := b.table.RunningHandle(agentID)
	if !ok {
		return false
	}
	if _, err := p.pty.Write([]byte(data)); err != nil {
		b.logger.Debug("failed to write to pty", zap.String("agent_id", agentID), zap.Error(err))
		return false
	}
	return true
}

func (b *Backend) ActiveSnapshot() *backend.Snapshot {
	active := b.table.Active()
	if active == "" {
		return nil
	}
	return b.AgentSnapshot(active, 0)
}

// AgentSnapshot renders the agent's screen. Exited agents keep their last
// screen until Cleanup.
func (b *Backend) AgentSnapshot(agentID string, scrollOffset int) *backend.Snapshot {
	s, ok := b.table.Get(agentID)
	if !ok || s.Handle == nil {
		return nil
	}
	return s.Handle.screen.Snapshot(scrollOffset)
}

func (b *Backend) AgentScrollbackLength(agentID string) int {
	s, ok := b.table.Get(agentID)
	if !ok || s.Handle == nil {
		return 0
	}
	return s.Handle.screen.ScrollbackLength()
}

// ResizeAll resizes every screen and the PTY of every running agent. Later
// spawns start at the new size.
func (b *Backend) ResizeAll(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	cols, rows = clampDimension(cols, 1), clampDimension(rows, 1)
	b.mu.Lock()
	b.cols, b.rows = cols, rows
	b.mu.Unlock()

	for _, s := range b.table.Sessions() {
		if s.Handle == nil {
			continue
		}
		s.Handle.screen.Resize(cols, rows)
		if s.Status != backend.StatusRunning {
			continue
		}
		if err := s.Handle.pty.Resize(cols, rows); err != nil {
			b.logger.Debug("failed to resize pty", zap.String("agent_id", s.AgentID), zap.Error(err))
		}
	}
}

// clampDimension returns n limited to maxDimension, or fallback when n is not
// positive.
func clampDimension(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return min(n, maxDimension)
}

// AttachHint is empty: the PTYs are owned by this process.
func (b *Backend) AttachHint() string {
	return ""
}
