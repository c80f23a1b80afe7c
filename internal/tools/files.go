package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/subzero/internal/paths"
)

const (
	fileReadMaxChars = 10000
	fileListMax      = 100
)

// FileTools reads and writes files for the file_* tools.
type FileTools struct {
	base      string
	confine   bool
	shortcuts *paths.Resolver
}

// NewFileTools creates file tools that resolve relative paths against
// base (the user's home directory when empty). With confine set, paths
// outside base are rejected.
func NewFileTools(base string, confine bool) *FileTools {
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = home
		} else {
			base = "."
		}
	}
	return &FileTools{base: base, confine: confine}
}

// Base returns the directory relative paths resolve against.
func (ft *FileTools) Base() string { return ft.base }

// SetShortcuts enables named directory shortcuts such as
// "downloads:report.pdf". Call it before the tools are registered.
func (ft *FileTools) SetShortcuts(r *paths.Resolver) { ft.shortcuts = r }

// resolvePath expands shortcuts and a leading ~, then makes path
// absolute against the absolute form of base.
func (ft *FileTools) resolvePath(path string) (string, error) {
	path = paths.ExpandHome(ft.shortcuts.Resolve(path))

	baseAbs, err := filepath.Abs(ft.base)
	if err != nil {
		return "", fmt.Errorf("resolve base: %w", err)
	}
	abs := filepath.Clean(path)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(baseAbs, abs)
	}

	if ft.confine {
		rel, err := filepath.Rel(baseAbs, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path escapes workspace: %s", path)
		}
	}
	return abs, nil
}

// Read returns up to maxChars characters of the file along with the
// file's full length in characters.
func (ft *FileTools) Read(ctx context.Context, path string, maxChars int) (string, int, error) {
	abs, err := ft.resolvePath(path)
	if err != nil {
		return "", 0, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, fmt.Errorf("file not found: %s", path)
		}
		return "", 0, fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	total := len([]rune(content))
	return truncateRunes(content, maxChars), total, nil
}

// Write writes content to a file, creating directories as needed.
func (ft *FileTools) Write(ctx context.Context, path, content string) error {
	abs, err := ft.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Append appends content to a file, creating it and its parents.
func (ft *FileTools) Append(ctx context.Context, path, content string) error {
	abs, err := ft.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}

// DirEntry is one line of a directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// List returns the sorted entries of a directory.
func (ft *FileTools) List(ctx context.Context, path string) ([]DirEntry, error) {
	abs, err := ft.resolvePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		de := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				de.Size = info.Size()
			}
		}
		out = append(out, de)
	}
	return out, nil
}

// Delete removes a file or a directory tree. It reports whether the
// target was a directory.
func (ft *FileTools) Delete(ctx context.Context, path string) (bool, error) {
	abs, err := ft.resolvePath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("not found: %s", path)
		}
		return false, err
	}
	if info.IsDir() {
		return true, os.RemoveAll(abs)
	}
	return false, os.Remove(abs)
}

type pathParams struct {
	Path string `param:"path"`
}

func (p *pathParams) Validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return errors.New("no path provided")
	}
	return nil
}

type fileWriteParams struct {
	Path    string `param:"path"`
	Content string `param:"content"`
}

func (p *fileWriteParams) Validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return errors.New("no path provided")
	}
	return nil
}

type fileListParams struct {
	Directory string `param:"directory"`
	Path      string `param:"path"`
}

func (ft *FileTools) handleRead(ctx context.Context, p pathParams) Result {
	content, total, err := ft.Read(ctx, p.Path, fileReadMaxChars)
	if err != nil {
		return Fail(err)
	}
	if total > fileReadMaxChars {
		content += fmt.Sprintf("\n... (truncated, %d total chars)", total)
	}
	return OK(content)
}

func (ft *FileTools) handleWrite(ctx context.Context, p fileWriteParams) Result {
	if err := ft.Write(ctx, p.Path, p.Content); err != nil {
		return Fail(err)
	}
	return OK(fmt.Sprintf("Wrote %d bytes to %s", len(p.Content), p.Path))
}

func (ft *FileTools) handleAppend(ctx context.Context, p fileWriteParams) Result {
	if err := ft.Append(ctx, p.Path, p.Content); err != nil {
		return Fail(err)
	}
	return OK(fmt.Sprintf("Appended %d bytes to %s", len(p.Content), p.Path))
}

func (ft *FileTools) handleList(ctx context.Context, p fileListParams) Result {
	dir := p.Directory
	if dir == "" {
		dir = p.Path
	}
	if dir == "" {
		dir = "."
	}

	entries, err := ft.List(ctx, dir)
	if err != nil {
		return Fail(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Contents of %s:", dir)
	for i, e := range entries {
		if i == fileListMax {
			fmt.Fprintf(&b, "\n  ... (%d total items)", len(entries))
			break
		}
		if e.IsDir {
			fmt.Fprintf(&b, "\n  %s/  (DIR)", e.Name)
		} else {
			fmt.Fprintf(&b, "\n  %s  (%dB)", e.Name, e.Size)
		}
	}
	return OKData(b.String(), entries)
}

func (ft *FileTools) handleDelete(ctx context.Context, p pathParams) Result {
	wasDir, err := ft.Delete(ctx, p.Path)
	if err != nil {
		return Fail(err)
	}
	if wasDir {
		return OK("Deleted directory " + p.Path)
	}
	return OK("Deleted " + p.Path)
}
