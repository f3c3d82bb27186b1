//go:build !windows

package inprocess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceResolve(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s3cret"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "secret-link")))
	require.NoError(t, os.Symlink(filepath.Join(root, "src"), filepath.Join(root, "src-link")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "missing"), filepath.Join(root, "dangling")))

	ws := NewWorkspaceContext(root)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "relative file", path: "src/main.go", want: filepath.Join(root, "src", "main.go")},
		{name: "missing file inside", path: "src/new.go", want: filepath.Join(root, "src", "new.go")},
		{name: "link inside the workspace", path: "src-link/main.go", want: filepath.Join(root, "src-link", "main.go")},
		{name: "dot dot", path: "../" + filepath.Base(outside), wantErr: true},
		{name: "absolute outside", path: filepath.Join(outside, "secret"), wantErr: true},
		{name: "directory link out", path: "escape/secret", wantErr: true},
		{name: "new file under a link out", path: "escape/new.txt", wantErr: true},
		{name: "file link out", path: "secret-link", wantErr: true},
		{name: "dangling link", path: "dangling", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.Resolve(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
