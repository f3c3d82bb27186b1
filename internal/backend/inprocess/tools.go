package inprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ErrRegistryStopped is returned by Call after Stop.
var ErrRegistryStopped = errors.New("tool registry stopped")

// ErrToolNotFound is returned by Call for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// ToolSource tells where a registered tool came from.
type ToolSource string

const (
	ToolSourceBuiltin    ToolSource = "builtin"
	ToolSourceDiscovered ToolSource = "discovered"
)

type registeredTool struct {
	server.ServerTool
	source ToolSource
	// serverName is the MCP server a discovered tool belongs to.
	serverName string
}

// ToolRegistry holds the tools available to one agent (or the session).
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]registeredTool
	stopped bool
	closers []func(context.Context) error
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register adds a builtin tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(tool mcp.Tool, handler server.ToolHandlerFunc) {
	r.add(registeredTool{
		ServerTool: server.ServerTool{Tool: tool, Handler: handler},
		source:     ToolSourceBuiltin,
	})
}

// RegisterDiscovered adds a tool negotiated with an external MCP server.
func (r *ToolRegistry) RegisterDiscovered(serverName string, tool mcp.Tool, handler server.ToolHandlerFunc) {
	r.add(registeredTool{
		ServerTool: server.ServerTool{Tool: tool, Handler: handler},
		source:     ToolSourceDiscovered,
		serverName: serverName,
	})
}

func (r *ToolRegistry) add(t registeredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Tool.Name] = t
}

// OnStop registers a release hook run by Stop.
func (r *ToolRegistry) OnStop(fn func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// CopyDiscoveredFrom copies every discovered tool of parent into r, skipping
// names r already has, and returns how many were copied. Handlers are shared.
func (r *ToolRegistry) CopyDiscoveredFrom(parent *ToolRegistry) int {
	if parent == nil || parent == r {
		return 0
	}

	parent.mu.RLock()
	var discovered []registeredTool
	for _, t := range parent.tools {
		if t.source == ToolSourceDiscovered {
			discovered = append(discovered, t)
		}
	}
	parent.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range discovered {
		if _, exists := r.tools[t.Tool.Name]; exists {
			continue
		}
		r.tools[t.Tool.Name] = t
		n++
	}
	return n
}

// Restrict removes every tool whose name is not in allow.
func (r *ToolRegistry) Restrict(allow []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.tools {
		if !slices.Contains(allow, name) {
			delete(r.tools, name)
		}
	}
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the tool definitions, sorted by name.
func (r *ToolRegistry) Tools() []mcp.Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out = append(out, t.Tool)
		}
	}
	return out
}

// Source returns where the named tool came from.
func (r *ToolRegistry) Source(name string) (ToolSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.source, ok
}

// Call invokes the named tool with args.
func (r *ToolRegistry) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	stopped := r.stopped
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if stopped {
		return nil, ErrRegistryStopped
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return t.Handler(ctx, req)
}

// Stop runs the release hooks once. Later calls are no-ops.
func (r *ToolRegistry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const maxReadBytes = 1 << 20

// RegisterCoreTools adds the file tools bound to one agent's workspace.
func RegisterCoreTools(r *ToolRegistry, ws *WorkspaceContext, fd *FileDiscovery) {
	r.Register(
		mcp.NewTool("get_working_directory",
			mcp.WithDescription("Return the agent's working directory."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(ws.Root()), nil
		},
	)

	r.Register(
		mcp.NewTool("read_file",
			mcp.WithDescription("Read a file from the workspace."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("File path, absolute or relative to the working directory"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			p, err := req.RequireString("path")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			abs, err := ws.Resolve(p)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to read %s: %v", p, err)), nil
			}
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
			}
			return mcp.NewToolResultText(string(data)), nil
		},
	)

	r.Register(
		mcp.NewTool("list_directory",
			mcp.WithDescription("List the entries of a workspace directory."),
			mcp.WithString("path",
				mcp.Description("Directory path (optional, defaults to the working directory)"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			abs, err := ws.Resolve(req.GetString("path", "."))
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			entries, err := os.ReadDir(abs)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to list %s: %v", abs, err)), nil
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			return mcp.NewToolResultText(strings.Join(names, "\n")), nil
		},
	)

	r.Register(
		mcp.NewTool("glob",
			mcp.WithDescription("Find workspace files matching a glob pattern."),
			mcp.WithString("pattern",
				mcp.Required(),
				mcp.Description("Glob matched against file names and root-relative paths"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			pattern, err := req.RequireString("pattern")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			matches, err := fd.Find(ctx, pattern, 500)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(strings.Join(matches, "\n")), nil
		},
	)
}
