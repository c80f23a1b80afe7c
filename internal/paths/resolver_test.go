package paths

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestResolve(t *testing.T) {
	r := New(map[string]string{
		"downloads":  "/home/me/Downloads",
		"documents:": "/home/me/Documents",
	})

	tests := []struct {
		name string
		path string
		want string
	}{
		{"file in shortcut", "downloads:report.pdf", filepath.Join("/home/me/Downloads", "report.pdf")},
		{"nested", "documents:taxes/2026.csv", filepath.Join("/home/me/Documents", "taxes", "2026.csv")},
		{"bare shortcut", "downloads:", "/home/me/Downloads"},
		{"absolute unchanged", "/etc/hosts", "/etc/hosts"},
		{"relative unchanged", "notes.txt", "notes.txt"},
		{"empty unchanged", "", ""},
		{"tilde unchanged", "~/notes.md", "~/notes.md"},
		{"unknown shortcut", "music:song.mp3", "music:song.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolve_Nil(t *testing.T) {
	var r *Resolver
	if got := r.Resolve("downloads:x"); got != "downloads:x" {
		t.Errorf("nil Resolve = %q, want input unchanged", got)
	}
	if r.Names() != nil {
		t.Error("nil Names should be nil")
	}
	if New(nil) != nil {
		t.Error("New(nil) should return nil")
	}
}

func TestResolve_LongestShortcutWins(t *testing.T) {
	r := New(map[string]string{
		"doc":  "/short",
		"docs": "/long",
	})
	if got := r.Resolve("docs:a.txt"); got != filepath.Join("/long", "a.txt") {
		t.Errorf("Resolve(docs:a.txt) = %q", got)
	}
	if got := r.Resolve("doc:a.txt"); got != filepath.Join("/short", "a.txt") {
		t.Errorf("Resolve(doc:a.txt) = %q", got)
	}
}

func TestNames(t *testing.T) {
	r := New(map[string]string{"b": "/b", "a:": "/a", "desktop": "/d"})
	if got, want := r.Names(), []string{"a", "b", "desktop"}; !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in, want string
	}{
		{"~", home},
		{"~/Downloads", filepath.Join(home, "Downloads")},
		{"~bob/x", "~bob/x"},
		{"/abs", "/abs"},
		{"rel/~", "rel/~"},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_ExpandsHomeInDirectories(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	r := New(map[string]string{"downloads": "~/Downloads"})
	if got := r.Resolve("downloads:"); got != filepath.Join(home, "Downloads") {
		t.Errorf("Resolve = %q", got)
	}
}
