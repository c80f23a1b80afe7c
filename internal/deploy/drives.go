package deploy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Drive is a mounted removable volume.
type Drive struct {
	Path  string `json:"path"`
	Free  uint64 `json:"free_bytes"`
	Total uint64 `json:"total_bytes"`
}

// String renders the drive as "path: X GB free / Y GB total".
func (d Drive) String() string {
	if d.Total == 0 {
		return d.Path
	}
	const gb = 1 << 30
	return fmt.Sprintf("%s: %.1f GB free / %.1f GB total", d.Path, float64(d.Free)/gb, float64(d.Total)/gb)
}

// errUnsupported is returned where volume inspection is not implemented.
var errUnsupported = errors.New("drive detection is not supported on this platform")

// DetectDrives returns the mount points found under roots. Desktop
// automounters nest volumes one level deeper (/media/<user>/<label>),
// so both depths are scanned. Roots that do not exist are skipped.
func DetectDrives(roots []string) ([]Drive, error) {
	var drives []Drive
	seen := make(map[string]bool)

	for _, root := range roots {
		for _, dir := range candidates(root) {
			if seen[dir] {
				continue
			}
			ok, err := isMountPoint(dir)
			if errors.Is(err, errUnsupported) {
				return nil, err
			}
			if err != nil || !ok {
				continue
			}
			seen[dir] = true
			free, total, err := diskUsage(dir)
			if err != nil {
				drives = append(drives, Drive{Path: dir})
				continue
			}
			drives = append(drives, Drive{Path: dir, Free: free, Total: total})
		}
	}
	return drives, nil
}

// candidates lists the directories one and two levels below root.
func candidates(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		out = append(out, dir)
		sub, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, s := range sub {
			if s.IsDir() && !strings.HasPrefix(s.Name(), ".") {
				out = append(out, filepath.Join(dir, s.Name()))
			}
		}
	}
	return out
}
