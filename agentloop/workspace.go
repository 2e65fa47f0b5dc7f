package agentloop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one file in the workspace, addressed by its slash-separated path
// relative to the sandbox root.
type Entry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Workspace abstracts the sandbox the agents build the codebase in. Paths
// are relative and already normalized by the caller.
type Workspace interface {
	// Reset removes every entry. The root itself is kept or created.
	Reset() error
	ListAll() ([]Entry, error)
	Read(path string) (string, error)
	Write(path string, content string) error
	Remove(path string) error
	Exists(path string) bool
	IsDir(path string) bool
	Root() string
}

// LocalWorkspace is a Workspace backed by a directory on the local
// filesystem.
type LocalWorkspace struct {
	root string
}

// NewLocalWorkspace returns a workspace rooted at root. The directory is
// not touched until Reset or Write.
func NewLocalWorkspace(root string) (*LocalWorkspace, error) {
	if root == "" {
		return nil, errors.New("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &LocalWorkspace{root: abs}, nil
}

func (w *LocalWorkspace) Root() string { return w.root }

func (w *LocalWorkspace) resolve(path string) string {
	return filepath.Join(w.root, filepath.FromSlash(path))
}

func (w *LocalWorkspace) Reset() error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	items, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("read workspace root: %w", err)
	}
	for _, item := range items {
		if err := os.RemoveAll(filepath.Join(w.root, item.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", item.Name(), err)
		}
	}
	return nil
}

// ListAll walks the workspace and returns every regular file, sorted by
// path. A missing root is an empty workspace.
func (w *LocalWorkspace) ListAll() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (w *LocalWorkspace) Read(path string) (string, error) {
	data, err := os.ReadFile(w.resolve(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Write replaces the file at path, creating parent directories as needed.
func (w *LocalWorkspace) Write(path string, content string) error {
	resolved := w.resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &WorkspaceError{Op: "mkdir", Path: path, Err: err}
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return &WorkspaceError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (w *LocalWorkspace) Remove(path string) error {
	if err := os.Remove(w.resolve(path)); err != nil {
		return &WorkspaceError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func (w *LocalWorkspace) Exists(path string) bool {
	_, err := os.Stat(w.resolve(path))
	return err == nil
}

func (w *LocalWorkspace) IsDir(path string) bool {
	info, err := os.Stat(w.resolve(path))
	return err == nil && info.IsDir()
}

// WorkspaceError records a failed filesystem mutation.
type WorkspaceError struct {
	Op   string
	Path string
	Err  error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WorkspaceError) Unwrap() error { return e.Err }

// Dump renders every entry as "file: <path>:\n<content>\n\n", the form the
// prompts embed.
func Dump(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "file: %s:\n%s\n\n", e.Path, e.Content)
	}
	return sb.String()
}

// Snapshot lists the workspace and renders it with Dump.
func Snapshot(ws Workspace) (string, int, error) {
	entries, err := ws.ListAll()
	if err != nil {
		return "", 0, err
	}
	return Dump(entries), len(entries), nil
}
