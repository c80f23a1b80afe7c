package deploy

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// skipNames are never copied onto a drive.
var skipNames = map[string]bool{
	".git":         true,
	".gitignore":   true,
	"__pycache__":  true,
	"node_modules": true,
}

func skipped(name string) bool {
	return skipNames[name] || strings.HasSuffix(name, ".pyc")
}

// CopyTree replaces dst with a copy of src and returns the number of
// files written.
func CopyTree(src, dst string) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("source %s is not a directory", src)
	}
	if err := os.RemoveAll(dst); err != nil {
		return 0, fmt.Errorf("clear destination: %w", err)
	}

	files := 0
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel != "." && skipped(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(p, target); err != nil {
			return err
		}
		files++
		return nil
	})
	return files, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// CountFiles counts regular files under dir, skipping .git.
func CountFiles(dir string) int {
	n := 0
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n
}

// extractZip unpacks archive into dst, dropping the single top-level
// directory GitHub adds to source archives. Entries that would land
// outside dst are rejected.
func extractZip(archive, dst string) (int, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, err
	}
	root := filepath.Clean(dst) + string(os.PathSeparator)

	files := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		_, rest, ok := strings.Cut(f.Name, "/")
		if !ok || rest == "" {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(path.Clean(rest)))
		if !strings.HasPrefix(target, root) {
			return files, fmt.Errorf("archive entry %q escapes destination", f.Name)
		}
		if err := writeZipEntry(f, target); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func writeZipEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
