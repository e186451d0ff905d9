// Package version exposes the application version derived from build metadata.
//
// Priority: -ldflags override > VCS info from debug.BuildInfo > "dev" fallback.
//
// Usage:
//
//	version.GitCommit  // "a3f8c2d1" or "dev"
//	version.Full()     // "director/a3f8c2d1" or "director/dev"
package version

import (
	"runtime"
	"runtime/debug"
)

// AppName is the application name used in version strings and the upstream
// User-Agent.
const AppName = "director"

// gitCommitOverride is set via -ldflags at build time for container builds
// where .git is unavailable. Empty string means no override.
var gitCommitOverride string

// GitCommit is the short git commit hash (8 chars) from build info.
// Set to "dev" when build info is unavailable (e.g., `go test`, non-git builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "director/<commit>" for use in user-agent strings, logging, etc.
func Full() string {
	return AppName + "/" + GitCommit
}

// BuildInfo is the version block reported by /health and `directorctl version`.
type BuildInfo struct {
	App       string `json:"app"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// Info returns the build information of the running binary.
func Info() BuildInfo {
	return BuildInfo{App: AppName, Commit: GitCommit, GoVersion: runtime.Version()}
}
