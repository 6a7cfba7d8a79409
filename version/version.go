// Package version holds build metadata injected at link time via
// -ldflags "-X github.com/MCPJam/inspector-sub001/version.Version=...".
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
