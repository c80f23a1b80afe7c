//go:build unix

package deploy

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// isMountPoint reports whether dir sits on a different device than
// its parent.
func isMountPoint(dir string) (bool, error) {
	var st, parent unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return false, err
	}
	if err := unix.Stat(filepath.Dir(dir), &parent); err != nil {
		return false, err
	}
	return st.Dev != parent.Dev, nil
}

// diskUsage returns free and total bytes for the filesystem holding dir.
func diskUsage(dir string) (free, total uint64, err error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(dir, &fs); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	bsize := uint64(fs.Bsize)
	return uint64(fs.Bavail) * bsize, uint64(fs.Blocks) * bsize, nil
}
