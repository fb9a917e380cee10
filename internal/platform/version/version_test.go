package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Service != "errify" {
		t.Errorf("Service = %q, want errify", info.Service)
	}
	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("build fields should not be empty: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "errify/"+Version) {
		t.Errorf("UserAgent = %q, want errify/%s prefix", ua, Version)
	}
}
