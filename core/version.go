package core

import (
	"runtime/debug"
	"sync"
)

// Build information, injected with:
//
//	go build -ldflags "-X sdcampaign/core.Version=v1.2.0 -X sdcampaign/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" .
//
// GitCommit falls back to the VCS revision Go stamps into the binary.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var stampOnce sync.Once

// stampFromBuildInfo fills unset values from debug.ReadBuildInfo.
func stampFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if GitCommit == "unknown" && len(setting.Value) >= 7 {
				GitCommit = setting.Value[:7]
			}
		case "vcs.time":
			if BuildTime == "unknown" {
				BuildTime = setting.Value
			}
		}
	}
}

// GetVersionInfo formats the build information, e.g.
// "v1.2.0 (built 2026-01-15T10:30:00Z, commit abc1234)".
func GetVersionInfo() string {
	stampOnce.Do(stampFromBuildInfo)
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
