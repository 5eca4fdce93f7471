package core

import (
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()

	if !strings.HasPrefix(info, Version+" (built ") {
		t.Errorf("GetVersionInfo() = %q, want it to start with the version", info)
	}
	if !strings.Contains(info, "commit "+GitCommit+")") {
		t.Errorf("GetVersionInfo() = %q, want commit %q", info, GitCommit)
	}
}

func TestGetVersionInfo_Stable(t *testing.T) {
	if GetVersionInfo() != GetVersionInfo() {
		t.Error("GetVersionInfo() changed between calls")
	}
}
