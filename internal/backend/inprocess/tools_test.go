package inprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mcpEchoTool(name string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription("Echo the query"),
		mcp.WithString("query", mcp.Required()),
	)
}

func echoHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(q), nil
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestCopyDiscoveredFrom(t *testing.T) {
	parent := NewToolRegistry()
	parent.Register(mcpEchoTool("builtin_echo"), echoHandler)
	parent.RegisterDiscovered("server-a", mcpEchoTool("remote_echo"), echoHandler)

	child := NewToolRegistry()
	child.Register(mcpEchoTool("read_file"), echoHandler)

	assert.Equal(t, 1, child.CopyDiscoveredFrom(parent))
	assert.Equal(t, []string{"read_file", "remote_echo"}, child.Names())

	src, ok := child.Source("remote_echo")
	require.True(t, ok)
	assert.Equal(t, ToolSourceDiscovered, src)

	result, err := child.Call(context.Background(), "remote_echo", map[string]any{"query": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ping", resultText(t, result))

	assert.Equal(t, 0, child.CopyDiscoveredFrom(parent), "already copied")
	assert.Equal(t, 0, child.CopyDiscoveredFrom(nil))
}

func TestRestrictAndCall(t *testing.T) {
	r := NewToolRegistry()
	r.Register(mcpEchoTool("a"), echoHandler)
	r.Register(mcpEchoTool("b"), echoHandler)
	r.Restrict([]string{"b"})

	assert.Equal(t, []string{"b"}, r.Names())
	require.Len(t, r.Tools(), 1)

	_, err := r.Call(context.Background(), "a", nil)
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestStopRunsHooksOnce(t *testing.T) {
	r := NewToolRegistry()
	calls := 0
	r.OnStop(func(context.Context) error {
		calls++
		return errors.New("close failed")
	})

	err := r.Stop(context.Background())
	assert.Error(t, err)
	assert.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestCoreToolsStayInWorkspace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "pkg", "main.go"), []byte("package main"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD.go"), []byte("x"), 0o600))

	r := NewToolRegistry()
	RegisterCoreTools(r, NewWorkspaceContext(root), NewFileDiscovery(root))
	ctx := context.Background()

	result, err := r.Call(ctx, "read_file", map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resultText(t, result))

	result, err = r.Call(ctx, "read_file", map[string]any{"path": "../outside.txt"})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = r.Call(ctx, "list_directory", map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "src/")

	result, err = r.Call(ctx, "glob", map[string]any{"pattern": "*.go"})
	require.NoError(t, err)
	assert.Equal(t, "src/pkg/main.go", resultText(t, result))
}

func TestWorkspaceContains(t *testing.T) {
	root := t.TempDir()
	ws := NewWorkspaceContext(root)

	assert.True(t, ws.Contains(root))
	assert.True(t, ws.Contains(filepath.Join(root, "a", "b")))
	assert.False(t, ws.Contains(filepath.Dir(root)))
	assert.False(t, ws.Contains(root+"-sibling"))
}
