package buildinfo

import (
	"strings"
	"testing"
	"time"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "SubZero/"+Version+" (") {
		t.Errorf("UserAgent() = %q, want prefix SubZero/%s", ua, Version)
	}
}

func TestInfo(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch", "uptime"} {
		if info[k] == "" {
			t.Errorf("Info()[%q] is empty", k)
		}
	}
	if _, err := time.ParseDuration(info["uptime"]); err != nil {
		t.Errorf("uptime %q: %v", info["uptime"], err)
	}
}

func TestString(t *testing.T) {
	if s := String(); !strings.HasPrefix(s, "SubZero "+Version) {
		t.Errorf("String() = %q", s)
	}
}
