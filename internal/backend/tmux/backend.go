package tmux

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentmux/internal/backend"
	"github.com/kandev/agentmux/internal/backend/marker"
	"github.com/kandev/agentmux/internal/backend/shellcmd"
	"github.com/kandev/agentmux/internal/common/appctx"
	"github.com/kandev/agentmux/internal/common/constants"
	"github.com/kandev/agentmux/internal/common/logger"
	"github.com/kandev/agentmux/internal/tracing"
)

const spawnQueueSize = 64

// Options configures the pane-driven backend.
type Options struct {
	Driver Driver
	// ScratchBase is the parent of the private marker directory.
	// Defaults to os.TempDir().
	ScratchBase   string
	PollInterval  time.Duration
	Horizontal    bool
	SessionPrefix string
	// CommandTimeout bounds per-call driver work started by the backend
	// outside a spawn (input, snapshots, teardown).
	CommandTimeout  time.Duration
	TeardownTimeout time.Duration
}

type spawnJob struct {
	ctx  context.Context
	cfg  backend.SpawnConfig
	done chan struct{}
}

// Backend runs every agent in its own tmux pane. Panes form a chain: the first
// agent splits the origin pane and each later agent splits the previous
// agent's pane.
type Backend struct {
	opts   Options
	driver Driver
	logger *logger.Logger
	table  *backend.Table[string]
	poller *marker.Poller

	mu          sync.Mutex
	initialized bool
	closed      bool
	scratchDir  string
	originPane  string
	lastPane    string
	leader      string

	// queueMu guards sends on jobs against the close in Cleanup.
	queueMu     sync.RWMutex
	queueClosed bool
	jobs        chan spawnJob
	workerDone  chan struct{}
	// notifying is set while the worker runs a spawn-failure exit callback.
	notifying atomic.Bool

	stopCh chan struct{}
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend creates a pane-driven backend. Call Init before spawning.
func NewBackend(opts Options, log *logger.Logger) *Backend {
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.MarkerPollInterval
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = constants.DriverCommandTimeout
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = constants.TeardownTimeout
	}
	if opts.SessionPrefix == "" {
		opts.SessionPrefix = "agentmux"
	}
	if opts.ScratchBase == "" {
		opts.ScratchBase = os.TempDir()
	}

	b := &Backend{
		opts:   opts,
		driver: opts.Driver,
		logger: log.WithComponent("tmux-backend"),
		table:  backend.NewTable[string](),
		stopCh: make(chan struct{}),
	}
	b.poller = marker.NewPoller(opts.PollInterval, b.pollMarkers)
	return b
}

func (b *Backend) Name() backend.Kind {
	return backend.KindTmux
}

// Init verifies tmux, creates the marker directory and resolves the origin
// pane, creating a detached leader session when not running inside tmux.
func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return backend.ErrClosed
	}
	if b.initialized {
		return nil
	}

	if err := b.driver.Available(ctx); err != nil {
		return fmt.Errorf("tmux unavailable: %w", err)
	}

	dir := filepath.Join(b.opts.ScratchBase, "agentmux-"+uuid.New().String())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	origin, err := b.driver.CurrentPane(ctx)
	if err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("failed to resolve current pane: %w", err)
	}
	if origin == "" {
		name := b.opts.SessionPrefix + "-" + uuid.New().String()[:8]
		cwd, _ := os.Getwd()
		origin, err = b.driver.NewSession(ctx, name, cwd)
		if err != nil {
			_ = os.RemoveAll(dir)
			return fmt.Errorf("failed to create leader session: %w", err)
		}
		b.leader = name
	}

	b.scratchDir = dir
	b.originPane = origin
	b.jobs = make(chan spawnJob, spawnQueueSize)
	b.workerDone = make(chan struct{})
	go b.worker(b.jobs, b.workerDone)

	b.initialized = true
	b.logger.Info("tmux backend initialized",
		zap.String("origin_pane", origin),
		zap.String("leader_session", b.leader),
		zap.String("marker_dir", dir))
	return nil
}

func (b *Backend) SpawnAgent(ctx context.Context, cfg backend.SpawnConfig) error {
	done, err := b.SpawnAgentAsync(ctx, cfg)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// SpawnAgentAsync queues the spawn behind every earlier one, so the pane chain
// follows call order even when callers do not wait in between.
func (b *Backend) SpawnAgentAsync(ctx context.Context, cfg backend.SpawnConfig) (<-chan struct{}, error) {
	if err := backend.ValidateProcessConfig(cfg); err != nil {
		return nil, err
	}

	b.mu.Lock()
	initialized, closed := b.initialized, b.closed
	b.mu.Unlock()
	if closed {
		return nil, backend.ErrClosed
	}
	if !initialized {
		return nil, backend.ErrNotInitialized
	}

	if err := b.table.Reserve(cfg.AgentID); err != nil {
		return nil, err
	}

	cfg.Env = maps.Clone(cfg.Env)
	cfg.Args = slices.Clone(cfg.Args)
	job := spawnJob{ctx: ctx, cfg: cfg, done: make(chan struct{})}

	b.queueMu.RLock()
	defer b.queueMu.RUnlock()
	if b.queueClosed {
		b.table.Release(cfg.AgentID)
		return nil, backend.ErrClosed
	}
	b.jobs <- job
	return job.done, nil
}

func (b *Backend) worker(jobs <-chan spawnJob, done chan<- struct{}) {
	defer close(done)
	for job := range jobs {
		b.doSpawn(job)
	}
}

func (b *Backend) doSpawn(job spawnJob) {
	defer close(job.done)

	cfg := job.cfg
	log := b.logger.WithAgentID(cfg.AgentID)

	b.mu.Lock()
	closed := b.closed
	source := b.lastPane
	if source == "" {
		source = b.originPane
	}
	dir := b.scratchDir
	b.mu.Unlock()

	if closed {
		b.table.Release(cfg.AgentID)
		return
	}

	ctx, span := tracing.TraceSpawn(job.ctx, string(backend.KindTmux), cfg.AgentID)
	defer span.End()

	cwd := cfg.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	script, err := shellcmd.Wrap(shellcmd.Spec{
		Cwd:        cwd,
		Env:        cfg.Env,
		Command:    cfg.Command,
		Args:       cfg.Args,
		MarkerPath: marker.Path(dir, cfg.AgentID),
	})
	if err == nil {
		var pane string
		pane, err = b.driver.SplitPane(ctx, source, SplitRequest{
			Cwd:        cwd,
			Command:    "sh -c " + shellcmd.Quote(script),
			Horizontal: b.opts.Horizontal,
		})
		if err == nil {
			if rerr := b.driver.SetRemainOnExit(ctx, pane, true); rerr != nil {
				log.Debug("failed to set remain-on-exit", zap.String("pane", pane), zap.Error(rerr))
			}

			// Registration and the poller start happen under mu so Cleanup
			// either sees this agent in the table or we see closed.
			b.mu.Lock()
			if b.closed {
				b.mu.Unlock()
				b.discardPane(cfg.AgentID, pane)
				return
			}
			b.lastPane = pane
			b.table.Register(cfg.AgentID, pane)
			b.poller.Start()
			b.mu.Unlock()

			log.Info("agent spawned", zap.String("pane", pane), zap.String("source_pane", source))
			return
		}
	}

	tracing.TraceResult(span, err)
	log.Warn("agent spawn failed", zap.Error(err))

	b.mu.Lock()
	closed = b.closed
	b.mu.Unlock()
	if closed {
		b.table.Release(cfg.AgentID)
		return
	}

	// The exit callback may call Cleanup; Cleanup must not wait for this
	// worker while it is inside the callback.
	b.notifying.Store(true)
	defer b.notifying.Store(false)
	b.table.RegisterExited(cfg.AgentID, "", 1)
}

// discardPane kills a pane whose spawn finished after Cleanup started.
func (b *Backend) discardPane(agentID, pane string) {
	b.table.Release(agentID)
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.CommandTimeout)
	defer cancel()
	if err := b.driver.KillPane(ctx, pane); err != nil {
		b.logger.Warn("failed to kill pane spawned during cleanup",
			zap.String("agent_id", agentID),
			zap.String("pane", pane),
			zap.Error(err))
	}
}

// pollMarkers reads the marker of every running agent. It reports true once
// every agent has exited so the poller stops itself.
func (b *Backend) pollMarkers() bool {
	b.mu.Lock()
	dir := b.scratchDir
	b.mu.Unlock()

	for _, s := range b.table.Running() {
		code, found, err := marker.Read(marker.Path(dir, s.AgentID))
		if err != nil {
			b.logger.Debug("failed to read exit marker", zap.String("agent_id", s.AgentID), zap.Error(err))
			continue
		}
		if !found {
			continue
		}
		if b.table.MarkExited(s.AgentID, &code, "") {
			b.logger.Info("agent exited", zap.String("agent_id", s.AgentID), zap.Int("exit_code", code))
		}
	}
	return b.table.AllExited()
}

func (b *Backend) StopAgent(agentID string) {
	pane, ok := b.table.RunningHandle(agentID)
	if !ok {
		return
	}
	if !b.table.MarkExited(agentID, nil, backend.SignalStopped) {
		return
	}

	go func() {
		ctx, cancel := appctx.Detached(b.stopCh, b.opts.TeardownTimeout)
		defer cancel()
		if err := b.driver.KillPane(ctx, pane); err != nil {
			b.logger.Warn("failed to kill pane",
				zap.String("agent_id", agentID),
				zap.String("pane", pane),
				zap.Error(err))
		}
	}()
}

func (b *Backend) StopAll() {
	for _, s := range b.table.Running() {
		b.StopAgent(s.AgentID)
	}
}

// Cleanup stops polling, drains the spawn queue, kills every pane and the
// leader session, and removes the marker directory.
func (b *Backend) Cleanup(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	initialized := b.initialized
	b.mu.Unlock()

	b.poller.Stop()

	if initialized {
		b.queueMu.Lock()
		b.queueClosed = true
		close(b.jobs)
		b.queueMu.Unlock()

		if b.notifying.Load() {
			b.logger.Debug("cleanup called from a spawn exit callback, not waiting for the spawn queue")
		} else {
			drain := time.NewTimer(b.opts.TeardownTimeout)
			select {
			case <-b.workerDone:
			case <-ctx.Done():
				b.logger.Warn("spawn queue did not drain before cleanup deadline")
			case <-drain.C:
				b.logger.Warn("spawn queue did not drain within teardown timeout")
			}
			drain.Stop()
		}
	}
	close(b.stopCh)

	sessions := b.table.Reset()
	ctx, span := tracing.TraceCleanup(ctx, string(backend.KindTmux), len(sessions))
	defer span.End()

	teardownCtx, cancel := context.WithTimeout(ctx, b.opts.TeardownTimeout)
	defer cancel()

	var errs []error
	for _, s := range sessions {
		if s.Handle == "" {
			continue
		}
		if err := b.driver.KillPane(teardownCtx, s.Handle); err != nil {
			errs = append(errs, fmt.Errorf("kill pane %s (%s): %w", s.Handle, s.AgentID, err))
		}
	}

	b.mu.Lock()
	leader, dir := b.leader, b.scratchDir
	b.mu.Unlock()

	if leader != "" {
		if err := b.driver.KillSession(teardownCtx, leader); err != nil {
			errs = append(errs, fmt.Errorf("kill session %s: %w", leader, err))
		}
	}
	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove marker directory: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		tracing.TraceResult(span, err)
		b.logger.Warn("tmux backend cleanup incomplete", zap.Error(err))
	}
	b.logger.Info("tmux backend cleaned up", zap.Int("agents", len(sessions)))
}

func (b *Backend) SetOnAgentExit(fn backend.ExitFunc) {
	b.table.SetOnExit(fn)
}

func (b *Backend) WaitForAll(ctx context.Context, timeout time.Duration) bool {
	return backend.WaitForAll(ctx, b.table.AllExited, b.opts.PollInterval, timeout)
}

// SwitchTo focuses agentID and selects its pane in tmux.
func (b *Backend) SwitchTo(agentID string) error {
	if err := b.table.SwitchTo(agentID); err != nil {
		return err
	}
	b.selectPane(agentID)
	return nil
}

func (b *Backend) SwitchToNext() {
	b.selectPane(b.table.SwitchToNext())
}

func (b *Backend) SwitchToPrevious() {
	b.selectPane(b.table.SwitchToPrevious())
}

func (b *Backend) selectPane(agentID string) {
	s, ok := b.table.Get(agentID)
	if !ok || s.Handle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.CommandTimeout)
	defer cancel()
	if err := b.driver.SelectPane(ctx, s.Handle); err != nil {
		b.logger.Debug("failed to select pane", zap.String("agent_id", agentID), zap.Error(err))
	}
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
	pane, ok := b.table.RunningHandle(agentID)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.CommandTimeout)
	defer cancel()
	if err := b.driver.SendKeys(ctx, pane, data); err != nil {
		b.logger.Debug("failed to send keys", zap.String("agent_id", agentID), zap.Error(err))
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

// AgentSnapshot captures the visible pane, shifted scrollOffset lines into
// history. Exited panes stay capturable because remain-on-exit is set.
func (b *Backend) AgentSnapshot(agentID string, scrollOffset int) *backend.Snapshot {
	s, ok := b.table.Get(agentID)
	if !ok || s.Handle == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.CommandTimeout)
	defer cancel()

	info, err := b.driver.PaneInfo(ctx, s.Handle)
	if err != nil {
		b.logger.Debug("failed to read pane info", zap.String("agent_id", agentID), zap.Error(err))
		return nil
	}

	if scrollOffset < 0 {
		scrollOffset = 0
	}
	if scrollOffset > 0 {
		history, err := b.driver.HistorySize(ctx, s.Handle)
		if err != nil {
			history = 0
		}
		scrollOffset = min(scrollOffset, history)
	}

	lines, err := b.driver.CapturePane(ctx, s.Handle, -scrollOffset, info.Rows-1-scrollOffset)
	if err != nil {
		b.logger.Debug("failed to capture pane", zap.String("agent_id", agentID), zap.Error(err))
		return nil
	}

	return &backend.Snapshot{
		Lines:        lines,
		CursorX:      info.CursorX,
		CursorY:      info.CursorY + scrollOffset,
		Cols:         info.Cols,
		Rows:         info.Rows,
		ScrollOffset: scrollOffset,
	}
}

func (b *Backend) AgentScrollbackLength(agentID string) int {
	s, ok := b.table.Get(agentID)
	if !ok || s.Handle == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.CommandTimeout)
	defer cancel()
	n, err := b.driver.HistorySize(ctx, s.Handle)
	if err != nil {
		return 0
	}
	return n
}

// ResizeAll is a no-op: tmux sizes panes from the attached client.
func (b *Backend) ResizeAll(cols, rows int) {}

func (b *Backend) AttachHint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.leader == "" {
		return ""
	}
	return "tmux attach -t " + b.leader
}
