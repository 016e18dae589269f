// Package version exposes build-time version information.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Info returns all version fields.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
		"go_version": GoVersion,
	}
}

// String returns a one-line version description.
func String() string {
	return fmt.Sprintf("sagaclaw %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}
