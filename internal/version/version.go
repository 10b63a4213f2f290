// Package version reports build metadata injected at link time.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	commit := Commit
	if commit == "none" {
		commit = vcsRevision()
	}
	return "parley " + Version + " (commit=" + commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// vcsRevision falls back to the revision stamped by the go tool.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "none"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return "none"
}
