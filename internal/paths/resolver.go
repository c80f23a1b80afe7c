// Package paths expands the named directory shortcuts accepted by the
// file tools, so a model can write "downloads:report.pdf" instead of
// guessing the user's home layout.
package paths

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Resolver maps shortcut names to directories. A nil *Resolver leaves
// every path unchanged.
type Resolver struct {
	dirs map[string]string // "downloads:" -> "/home/me/Downloads"
	// order holds the keys of dirs, longest first, so "doc:" cannot
	// shadow "docs:".
	order []string
}

// New builds a resolver from name-to-directory pairs. Names may be
// given with or without the trailing colon, and a leading ~ in a
// directory is expanded once here. An empty map yields nil.
func New(shortcuts map[string]string) *Resolver {
	if len(shortcuts) == 0 {
		return nil
	}
	r := &Resolver{dirs: make(map[string]string, len(shortcuts))}
	for name, dir := range shortcuts {
		key := strings.TrimSuffix(name, ":") + ":"
		r.dirs[key] = ExpandHome(dir)
		r.order = append(r.order, key)
	}
	slices.SortFunc(r.order, func(a, b string) int {
		if d := len(b) - len(a); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return r
}

// Resolve rewrites a shortcut path to a real one. A bare shortcut
// ("downloads:") names the directory itself; anything else is
// returned as given.
func (r *Resolver) Resolve(path string) string {
	if r == nil {
		return path
	}
	for _, key := range r.order {
		rest, ok := strings.CutPrefix(path, key)
		if !ok {
			continue
		}
		if rest == "" {
			return r.dirs[key]
		}
		return filepath.Join(r.dirs[key], rest)
	}
	return path
}

// Names lists the shortcut names, without colons, in sorted order.
func (r *Resolver) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.order))
	for _, key := range r.order {
		names = append(names, strings.TrimSuffix(key, ":"))
	}
	slices.Sort(names)
	return names
}

// ExpandHome replaces a leading "~" or "~/" with the home directory.
// Paths like "~bob/x" and failures to find the home directory leave
// path unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
