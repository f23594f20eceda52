// Package version exposes the binary's build metadata.
package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden at release time via
// -ldflags "-X github.com/backlogic/storysearch/pkg/version.Version=...".
// Development builds keep the defaults.
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo is the JSON shape of the version information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String renders the one-line human form, e.g.
// "storysearch 1.4.0 (commit 8f2e1a3, built 2026-08-25T10:11:12Z, go1.24.1, linux/amd64)".
func String() string {
	return fmt.Sprintf("storysearch %s (commit %s, built %s, %s, %s)",
		Version, Commit, Date, GoVersion, Platform())
}

// Short returns the bare version.
func Short() string { return Version }

// Platform returns the os/arch pair the binary was built for.
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// UserAgent identifies this build to remote embedding and judge APIs,
// e.g. "storysearch/1.4.0".
func UserAgent() string {
	return "storysearch/" + Version
}

// GetInfo returns the structured form for JSON output.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
