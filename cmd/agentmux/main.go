// Package main is a small harness around the execution backends.
// Each positional argument becomes one agent running `sh -c <arg>` on the
// configured backend (the pty backend uses pty.shell instead of sh; the
// in-process backend takes the argument as the prompt). SIGINT or SIGTERM
// stops every agent.
//
//	agentmux -backend pty 'make test' 'go vet ./...'
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentmux/internal/backend"
	"github.com/kandev/agentmux/internal/backend/inprocess"
	"github.com/kandev/agentmux/internal/backend/registry"
	"github.com/kandev/agentmux/internal/common/config"
	"github.com/kandev/agentmux/internal/common/logger"
	"github.com/kandev/agentmux/internal/tracing"
)

var (
	configFlag  = flag.String("config", "", "Directory containing config.yaml")
	backendFlag = flag.String("backend", "", "Backend kind (tmux, pty, in_process); overrides config")
	timeoutFlag = flag.Duration("timeout", 0, "Stop all agents after this long (0 waits forever)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWithPath(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *backendFlag != "" {
		cfg.Backend.Kind = *backendFlag
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// A bad endpoint is logged by Init; agents still run without tracing.
	_ = tracing.Init(context.Background(), tracing.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
	}, log)

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: agentmux [flags] <command>...")
		os.Exit(2)
	}

	code := run(cfg, log, flag.Args())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil {
		log.Warn("failed to flush traces", zap.Error(err))
	}
	_ = log.Sync()
	os.Exit(code)
}

// run spawns one agent per command and returns the process exit status:
// 0 when every agent exited 0, 1 otherwise.
func run(cfg *config.Config, log *logger.Logger, commands []string) int {
	cwd, _ := os.Getwd()
	deps := registry.Deps{
		Logger: log,
		Session: inprocess.NewSessionConfig(inprocess.SessionOptions{
			SessionID:  "agentmux",
			WorkingDir: cwd,
		}),
		Tasks: &inprocess.FuncFactory{Run: runPrompt},
	}

	be, err := registry.NewDefault(log).FromConfig(cfg, deps)
	if err != nil {
		log.Error("failed to create backend", zap.Error(err))
		return 1
	}

	var mu sync.Mutex
	failed := false
	be.SetOnAgentExit(func(agentID string, code *int, signal string) {
		fields := []zap.Field{zap.String("agent_id", agentID), zap.String("signal", signal)}
		if code != nil {
			fields = append(fields, zap.Int("exit_code", *code))
		}
		log.Info("agent exited", fields...)

		mu.Lock()
		defer mu.Unlock()
		if code == nil || *code != 0 {
			failed = true
		}
	})

	ctx := context.Background()
	defer be.Cleanup(context.Background())

	if err := be.Init(ctx); err != nil {
		log.Error("failed to initialize backend", zap.String("kind", string(be.Name())), zap.Error(err))
		return 1
	}
	if hint := be.AttachHint(); hint != "" {
		log.Info("agents are visible in tmux", zap.String("attach", hint))
	}

	for i, command := range commands {
		spawn := spawnConfig(cfg, be.Name(), fmt.Sprintf("agent-%d", i+1), cwd, command)
		if err := be.SpawnAgent(ctx, spawn); err != nil {
			log.Error("failed to spawn agent", zap.String("agent_id", spawn.AgentID), zap.Error(err))
			be.StopAll()
			return 1
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case sig := <-quit:
			log.Info("stopping agents", zap.String("signal", sig.String()))
			be.StopAll()
		case <-waitCtx.Done():
		}
	}()

	if !be.WaitForAll(waitCtx, *timeoutFlag) {
		log.Warn("timed out waiting for agents", zap.Duration("timeout", *timeoutFlag))
		be.StopAll()
	}

	mu.Lock()
	defer mu.Unlock()
	if failed {
		return 1
	}
	return 0
}

func spawnConfig(cfg *config.Config, kind backend.Kind, agentID, cwd, command string) backend.SpawnConfig {
	spawn := backend.SpawnConfig{AgentID: agentID, Cwd: cwd}
	switch kind {
	case backend.KindInProcess:
		spawn.Runtime = &backend.RuntimeSpec{Prompt: command}
		return spawn
	case backend.KindPTY:
		spawn.Command = cfg.PTY.Shell
	default:
		spawn.Command = "sh"
	}
	spawn.Args = []string{"-c", command}
	return spawn
}

// runPrompt is the in-process task used by the harness: it reports the prompt
// and the tools the agent can see, then completes.
func runPrompt(ctx context.Context, cfg inprocess.RuntimeConfig, spec backend.RuntimeSpec, _ <-chan string) error {
	logger.Default().Info("in-process agent",
		zap.String("prompt", spec.Prompt),
		zap.String("working_dir", cfg.WorkingDir()),
		zap.Strings("tools", cfg.ToolRegistry().Names()))
	return ctx.Err()
}
