package inprocess

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WorkspaceContext is the set of directories an agent may read.
type WorkspaceContext struct {
	dirs []string
}

// NewWorkspaceContext roots a workspace at root plus any extra directories.
func NewWorkspaceContext(root string, extra ...string) *WorkspaceContext {
	w := &WorkspaceContext{}
	for _, d := range append([]string{root}, extra...) {
		if d == "" {
			continue
		}
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		w.dirs = append(w.dirs, filepath.Clean(d))
	}
	return w
}

// Root returns the primary directory.
func (w *WorkspaceContext) Root() string {
	if len(w.dirs) == 0 {
		return ""
	}
	return w.dirs[0]
}

func (w *WorkspaceContext) Directories() []string {
	return append([]string(nil), w.dirs...)
}

// Contains reports whether path lies inside one of the workspace directories.
func (w *WorkspaceContext) Contains(path string) bool {
	path = filepath.Clean(path)
	for _, d := range w.dirs {
		rel, err := filepath.Rel(d, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Resolve turns p, relative to the root or absolute, into an absolute path
// inside the workspace. Symlinks in the existing part of the path are
// followed, so a link pointing out of the workspace is rejected.
func (w *WorkspaceContext) Resolve(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root(), p)
	}
	p = filepath.Clean(p)
	if !w.Contains(p) {
		return "", fmt.Errorf("path %s is outside the workspace", p)
	}

	resolved, err := realPath(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	realDirs := make([]string, 0, len(w.dirs))
	for _, d := range w.dirs {
		if rd, err := filepath.EvalSymlinks(d); err == nil {
			d = rd
		}
		realDirs = append(realDirs, d)
	}
	if !(&WorkspaceContext{dirs: realDirs}).Contains(resolved) {
		return "", fmt.Errorf("path %s resolves to %s, outside the workspace", p, resolved)
	}
	return p, nil
}

// realPath evaluates symlinks in the longest existing prefix of p and
// appends the rest unchanged.
func realPath(p string) (string, error) {
	cur, rest := p, ""
	for {
		evaluated, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(evaluated, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		// A dangling link has no target to check.
		if _, lerr := os.Lstat(cur); lerr == nil {
			return "", fmt.Errorf("%s is a dangling symlink", cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

var skippedDirs = map[string]bool{".git": true, "node_modules": true}

var errFindLimit = errors.New("find limit reached")

// FileDiscovery finds files under a root directory.
type FileDiscovery struct {
	root string
}

func NewFileDiscovery(root string) *FileDiscovery {
	if abs, err := filepath.Abs(root); err == nil && root != "" {
		root = abs
	}
	return &FileDiscovery{root: root}
}

func (d *FileDiscovery) Root() string {
	return d.root
}

// Find returns root-relative paths whose base name or relative path matches
// the glob pattern, up to limit results (0 means no limit).
func (d *FileDiscovery) Find(ctx context.Context, pattern string, limit int) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var out []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if skippedDirs[entry.Name()] && path != d.root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(d.root, path)
		if relErr != nil {
			return nil
		}
		baseMatch, _ := filepath.Match(pattern, entry.Name())
		relMatch, _ := filepath.Match(pattern, filepath.ToSlash(rel))
		if baseMatch || relMatch {
			out = append(out, filepath.ToSlash(rel))
			if limit > 0 && len(out) >= limit {
				return errFindLimit
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFindLimit) {
		return nil, err
	}
	return out, nil
}
