package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "subzero"), "bin")
	writeFile(t, filepath.Join(src, "config.yaml"), "listen: {}")
	writeFile(t, filepath.Join(src, "docs", "README.md"), "# hi")
	writeFile(t, filepath.Join(src, ".git", "HEAD"), "ref")
	writeFile(t, filepath.Join(src, "__pycache__", "x.pyc"), "junk")
	writeFile(t, filepath.Join(src, "old.pyc"), "junk")

	dst := filepath.Join(t.TempDir(), DirName)
	writeFile(t, filepath.Join(dst, "stale.txt"), "from a previous deploy")

	n, err := CopyTree(src, dst)
	if err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	if n != 3 {
		t.Errorf("copied %d files, want 3", n)
	}
	if _, err := os.Stat(filepath.Join(dst, "docs", "README.md")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
	for _, gone := range []string{".git", "__pycache__", "old.pyc", "stale.txt"} {
		if _, err := os.Stat(filepath.Join(dst, gone)); !os.IsNotExist(err) {
			t.Errorf("%s should not exist in destination", gone)
		}
	}
	if got := CountFiles(dst); got != 3 {
		t.Errorf("CountFiles = %d, want 3", got)
	}
}

func TestCopyTree_MissingSource(t *testing.T) {
	if _, err := CopyTree(filepath.Join(t.TempDir(), "nope"), t.TempDir()); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestDeployToUSB_ExplicitDrive(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	drive := t.TempDir()

	d := New(Config{SourceDir: src}, quietLogger())
	dep, err := d.DeployToUSB(context.Background(), drive)
	if err != nil {
		t.Fatalf("DeployToUSB: %v", err)
	}
	if dep.Dest != filepath.Join(drive, DirName) || dep.Files != 1 {
		t.Errorf("deployment = %+v", dep)
	}
}

func TestDeployToUSB_NoDrive(t *testing.T) {
	d := New(Config{SourceDir: t.TempDir(), MountRoots: []string{filepath.Join(t.TempDir(), "none")}}, quietLogger())
	if _, err := d.DeployToUSB(context.Background(), ""); !errors.Is(err, ErrNoDrive) {
		t.Errorf("err = %v, want ErrNoDrive", err)
	}
	if _, err := d.DeployToUSB(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing drive")
	}
}

func TestDetectDrives_PlainDirsAreNotMounts(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "user", "STICK"), 0o755)

	drives, err := DetectDrives([]string{root, filepath.Join(root, "missing")})
	if err != nil {
		t.Skipf("drive detection unavailable: %v", err)
	}
	if len(drives) != 0 {
		t.Errorf("drives = %v, want none", drives)
	}
}

func TestDriveString(t *testing.T) {
	d := Drive{Path: "/media/u/STICK", Free: 3 << 30, Total: 16 << 30}
	if got := d.String(); got != "/media/u/STICK: 3.0 GB free / 16.0 GB total" {
		t.Errorf("String() = %q", got)
	}
	if got := (Drive{Path: "/mnt/x"}).String(); got != "/mnt/x" {
		t.Errorf("String() = %q", got)
	}
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownload_ArchiveFallback(t *testing.T) {
	archive := makeZip(t, map[string]string{
		"subzero-main/README.md":   "readme",
		"subzero-main/cmd/main.go": "package main",
		"subzero-main/":            "",
	})

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/jhawpetoss6-collab/subzero/zipball/main", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srvURL+"/codeload/subzero-main.zip", http.StatusFound)
	})
	mux.HandleFunc("GET /codeload/subzero-main.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	d := New(Config{Owner: "jhawpetoss6-collab", Repo: "subzero", Git: "definitely-not-git-binary"}, quietLogger())
	d.gh.BaseURL, _ = url.Parse(srv.URL + "/")

	dest := filepath.Join(t.TempDir(), "out")
	dep, err := d.Download(context.Background(), dest, false, "")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if dep.Method != "archive" || dep.Files != 2 {
		t.Errorf("deployment = %+v", dep)
	}
	data, err := os.ReadFile(filepath.Join(dest, "cmd", "main.go"))
	if err != nil || string(data) != "package main" {
		t.Errorf("extracted file = %q, %v", data, err)
	}
}

func TestExtractZip_RejectsEscape(t *testing.T) {
	archive := makeZip(t, map[string]string{"top/../../evil.txt": "x"})
	path := filepath.Join(t.TempDir(), "a.zip")
	os.WriteFile(path, archive, 0o644)

	dst := filepath.Join(t.TempDir(), "dst")
	if _, err := extractZip(path, dst); err == nil {
		t.Fatal("expected archive with .. entries to be rejected")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dst), "evil.txt")); !os.IsNotExist(err) {
		t.Error("escaping entry was written")
	}
}
