// Package buildinfo reports what binary is running. Release builds
// stamp the variables below with -ldflags "-X"; plain go builds fall
// back to the VCS settings the toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Stamped at link time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

var vcsOnce sync.Once

// fillFromVCS replaces unstamped values with the revision and commit
// time recorded by the go tool, when present.
func fillFromVCS() {
	vcsOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && GitCommit == "unknown":
				GitCommit = s.Value
				if len(GitCommit) > 12 {
					GitCommit = GitCommit[:12]
				}
			case s.Key == "vcs.time" && BuildTime == "unknown":
				BuildTime = s.Value
			}
		}
	})
}

// Uptime is the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// Info is the build and runtime metadata served by the version
// command and the status endpoints.
func Info() map[string]string {
	fillFromVCS()
	info := map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
	info["uptime"] = Uptime().String()
	return info
}

// UserAgent identifies SubZero to fetched sites and APIs.
func UserAgent() string {
	fillFromVCS()
	return "SubZero/" + Version + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}

func String() string {
	fillFromVCS()
	return fmt.Sprintf("SubZero %s (%s on %s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
