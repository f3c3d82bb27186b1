// Package registry selects and constructs the execution backend for a session.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agentmux/internal/backend"
	"github.com/kandev/agentmux/internal/backend/inprocess"
	"github.com/kandev/agentmux/internal/backend/ptyterm"
	"github.com/kandev/agentmux/internal/backend/tmux"
	"github.com/kandev/agentmux/internal/common/config"
	"github.com/kandev/agentmux/internal/common/logger"
	"github.com/kandev/agentmux/internal/credentials"
)

// ErrBackendNotFound is returned when no factory is registered for a kind.
var ErrBackendNotFound = errors.New("backend not found")

// Deps carries collaborators a backend may need beyond configuration.
type Deps struct {
	Logger *logger.Logger
	// Session and Tasks are required by the in-process backend only.
	Session inprocess.RuntimeConfig
	Tasks   inprocess.TaskFactory
}

// Factory builds a backend from configuration.
type Factory func(cfg *config.Config, deps Deps) (backend.Backend, error)

// Registry maps backend kinds to factories.
type Registry struct {
	factories map[backend.Kind]Factory
	mu        sync.RWMutex
	logger    *logger.Logger
}

// New creates an empty registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		factories: make(map[backend.Kind]Factory),
		logger:    log,
	}
}

// NewDefault creates a registry with the tmux, pty and in-process backends.
func NewDefault(log *logger.Logger) *Registry {
	r := New(log)
	r.Register(backend.KindTmux, newTmux)
	r.Register(backend.KindPTY, newPTY)
	r.Register(backend.KindInProcess, newInProcess)
	return r
}

// Register adds a factory, replacing any previous one for kind.
func (r *Registry) Register(kind backend.Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[kind] = f
	r.logger.Debug("registered backend", zap.String("kind", string(kind)))
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []backend.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]backend.Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// New builds the backend registered for kind. The backend is not initialized.
func (r *Registry) New(kind backend.Kind, cfg *config.Config, deps Deps) (backend.Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, kind)
	}
	if deps.Logger == nil {
		deps.Logger = r.logger
	}

	b, err := f(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", kind, err)
	}
	r.logger.Info("backend created", zap.String("kind", string(kind)))
	return b, nil
}

// FromConfig builds the backend named by cfg.Backend.Kind.
func (r *Registry) FromConfig(cfg *config.Config, deps Deps) (backend.Backend, error) {
	return r.New(backend.Kind(cfg.Backend.Kind), cfg, deps)
}

func newTmux(cfg *config.Config, deps Deps) (backend.Backend, error) {
	client := tmux.NewClient(cfg.Tmux.Binary, cfg.Tmux.CommandTimeout(), tmux.ExecRunner{})
	return tmux.NewBackend(tmux.Options{
		Driver:          client,
		ScratchBase:     cfg.Backend.ScratchDir,
		PollInterval:    cfg.Backend.PollInterval(),
		Horizontal:      cfg.Tmux.SplitDirection == "horizontal",
		SessionPrefix:   cfg.Tmux.SessionPrefix,
		CommandTimeout:  cfg.Tmux.CommandTimeout(),
		TeardownTimeout: cfg.Backend.TeardownTimeout(),
	}, deps.Logger), nil
}

func newPTY(cfg *config.Config, deps Deps) (backend.Backend, error) {
	return ptyterm.NewBackend(ptyterm.Options{
		Cols:            cfg.PTY.Cols,
		Rows:            cfg.PTY.Rows,
		ScrollbackLines: cfg.PTY.ScrollbackLines,
		TeardownTimeout: cfg.Backend.TeardownTimeout(),
	}, deps.Logger), nil
}

func newInProcess(cfg *config.Config, deps Deps) (backend.Backend, error) {
	if deps.Session == nil || deps.Tasks == nil {
		return nil, errors.New("in-process backend needs a session config and a task factory")
	}

	creds := credentials.NewManager(deps.Logger)
	creds.AddProvider(credentials.NewEnvProvider(cfg.InProcess.CredentialsEnvPrefix))
	if cfg.InProcess.CredentialsFile != "" {
		creds.AddProvider(credentials.NewFileProvider(cfg.InProcess.CredentialsFile))
	}

	return inprocess.NewBackend(inprocess.Options{
		Session:         deps.Session,
		Factory:         deps.Tasks,
		Credentials:     creds,
		TeardownTimeout: cfg.Backend.TeardownTimeout(),
	}, deps.Logger), nil
}
