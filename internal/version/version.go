// Package version carries build metadata injected via -ldflags, e.g.
// go build -ldflags "-X github.com/pysugar/shelflife/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// UserAgent identifies this instance to TBDB.
func UserAgent() string {
	return fmt.Sprintf("ShelfLife/%s (+https://github.com/pysugar/shelflife)", Version)
}

// String is the one-line form printed by `shelflife version`.
func String() string {
	return fmt.Sprintf("shelflife %s (commit %s, built %s)", Version, Commit, BuildTime)
}
