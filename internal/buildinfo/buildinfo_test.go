package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	for _, key := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch", "uptime"} {
		if info[key] == "" {
			t.Errorf("Info()[%q] is empty", key)
		}
	}
	if info["go_version"] != runtime.Version() {
		t.Errorf("go_version = %q, want %q", info["go_version"], runtime.Version())
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "registrar/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, "Registrar "+Version) || !strings.Contains(s, GitCommit) {
		t.Errorf("String() = %q", s)
	}
}
