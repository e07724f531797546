// Package version holds build metadata stamped in via -ldflags.
package version

var (
	// Version is the semantic version of the build, e.g. "v0.3.1".
	Version = "dev"
	// Commit is the short git commit hash the binary was built from.
	Commit = "none"
	// BuildTime is the RFC 3339 timestamp of the build.
	BuildTime = "unknown"
)
