package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/subzero/internal/paths"
)

func TestFileTools_ResolvePath(t *testing.T) {
	workspace := t.TempDir()
	ft := NewFileTools(workspace, true)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative path", "test.txt", false},
		{"nested path", "dir/subdir/file.txt", false},
		{"dot prefix", "./test.txt", false},
		{"absolute inside", filepath.Join(workspace, "x.txt"), false},
		{"parent escape attempt", "../outside.txt", true},
		{"absolute escape attempt", "/etc/passwd", true},
		{"sneaky escape", "dir/../../outside.txt", true},
		{"dotdot-prefixed name", "..hidden", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ft.resolvePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("resolvePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestFileTools_RelativeWorkspace(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := os.Mkdir("ws", 0o755); err != nil {
		t.Fatal(err)
	}
	ft := NewFileTools("ws", true)
	ctx := context.Background()

	if err := ft.Write(ctx, "notes.txt", "hi"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _, err := ft.Read(ctx, "notes.txt", 100)
	if err != nil || got != "hi" {
		t.Errorf("Read = %q, %v", got, err)
	}
	data, err := os.ReadFile(filepath.Join("ws", "notes.txt"))
	if err != nil || string(data) != "hi" {
		t.Errorf("file on disk = %q, %v", data, err)
	}

	abs, err := ft.resolvePath("sub/a.txt")
	if err != nil || !filepath.IsAbs(abs) {
		t.Errorf("resolvePath = %q, %v, want an absolute path", abs, err)
	}
	if err := ft.Write(ctx, "../outside.txt", "x"); err == nil {
		t.Error("expected write outside a relative workspace to fail")
	}
}

func TestFileTools_Unconfined(t *testing.T) {
	ft := NewFileTools(t.TempDir(), false)
	abs, err := ft.resolvePath("/etc/hosts")
	if err != nil || abs != "/etc/hosts" {
		t.Errorf("resolvePath = %q, %v", abs, err)
	}
}

func TestFileTools_Shortcuts(t *testing.T) {
	downloads := t.TempDir()
	if err := os.WriteFile(filepath.Join(downloads, "report.txt"), []byte("quarterly"), 0o644); err != nil {
		t.Fatal(err)
	}

	ft := NewFileTools(t.TempDir(), false)
	ft.SetShortcuts(paths.New(map[string]string{"downloads": downloads}))

	got, _, err := ft.Read(context.Background(), "downloads:report.txt", 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "quarterly" {
		t.Errorf("Read = %q, want %q", got, "quarterly")
	}

	// Shortcuts do not bypass confinement to the workspace.
	ft = NewFileTools(t.TempDir(), true)
	ft.SetShortcuts(paths.New(map[string]string{"downloads": downloads}))
	if _, err := ft.resolvePath("downloads:report.txt"); err == nil {
		t.Error("expected confined workspace to reject a shortcut outside it")
	}
}

func TestFileHandlers(t *testing.T) {
	workspace := t.TempDir()
	ft := NewFileTools(workspace, true)
	ctx := context.Background()

	write := typed(ft.handleWrite)
	appendH := typed(ft.handleAppend)
	read := typed(ft.handleRead)
	del := typed(ft.handleDelete)

	res := write(ctx, map[string]string{"path": "notes/todo.txt", "content": "one\n"})
	if !res.Success || res.Output != "Wrote 4 bytes to notes/todo.txt" {
		t.Fatalf("write: %+v", res)
	}
	if res := appendH(ctx, map[string]string{"path": "notes/todo.txt", "content": "two\n"}); !res.Success {
		t.Fatalf("append: %+v", res)
	}
	res = read(ctx, map[string]string{"path": "notes/todo.txt"})
	if !res.Success || res.Output != "one\ntwo\n" {
		t.Errorf("read: %+v", res)
	}

	if res := read(ctx, map[string]string{"path": "missing.txt"}); res.Success || !strings.Contains(res.Output, "file not found") {
		t.Errorf("read missing: %+v", res)
	}
	if res := read(ctx, map[string]string{}); res.Success || res.Output != "no path provided" {
		t.Errorf("read without path: %+v", res)
	}

	if res := del(ctx, map[string]string{"path": "notes"}); !res.Success || res.Output != "Deleted directory notes" {
		t.Errorf("delete dir: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(workspace, "notes")); !os.IsNotExist(err) {
		t.Error("directory should be gone")
	}
	if res := del(ctx, map[string]string{"path": "notes"}); res.Success {
		t.Error("deleting twice should fail")
	}
}

func TestHandleRead_Truncates(t *testing.T) {
	workspace := t.TempDir()
	os.WriteFile(filepath.Join(workspace, "big.txt"), []byte(strings.Repeat("é", fileReadMaxChars+5)), 0o644)

	res := typed(NewFileTools(workspace, true).handleRead)(context.Background(), map[string]string{"path": "big.txt"})
	want := strings.Repeat("é", fileReadMaxChars) + fmt.Sprintf("\n... (truncated, %d total chars)", fileReadMaxChars+5)
	if res.Output != want {
		t.Errorf("output tail = %q", res.Output[len(res.Output)-40:])
	}
}

func TestHandleList(t *testing.T) {
	workspace := t.TempDir()
	os.Mkdir(filepath.Join(workspace, "src"), 0o755)
	os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("12345"), 0o644)

	list := typed(NewFileTools(workspace, true).handleList)
	res := list(context.Background(), map[string]string{"directory": "."})
	want := "Contents of .:\n  a.txt  (5B)\n  src/  (DIR)"
	if !res.Success || res.Output != want {
		t.Errorf("list = %q, want %q", res.Output, want)
	}

	res = list(context.Background(), map[string]string{"path": "nope"})
	if res.Success {
		t.Error("listing a missing dir should fail")
	}
}

func TestHandleList_Caps(t *testing.T) {
	workspace := t.TempDir()
	for i := range fileListMax + 20 {
		os.WriteFile(filepath.Join(workspace, fmt.Sprintf("f%03d", i)), nil, 0o644)
	}
	res := typed(NewFileTools(workspace, true).handleList)(context.Background(), map[string]string{})
	lines := strings.Split(res.Output, "\n")
	if len(lines) != fileListMax+2 {
		t.Errorf("got %d lines, want %d", len(lines), fileListMax+2)
	}
	if last := lines[len(lines)-1]; last != "  ... (120 total items)" {
		t.Errorf("last line = %q", last)
	}
}
