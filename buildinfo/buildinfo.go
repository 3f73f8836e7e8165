// Package buildinfo holds the reader's name and version, overridable at link
// time:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/davi-balance-reader/buildinfo.Version=1.2.0 \
//	  -X github.com/dotside-studios/davi-balance-reader/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the binary and mDNS instance name.
	Name = "davi-balance-reader"

	// DisplayName is shown in the tray and page titles.
	DisplayName = "Davi Balance Reader"

	// Description is a one-line summary for the CLI.
	Description = "Reads the stored-value balance from MIFARE Classic cards"

	// Version is set via ldflags for releases.
	Version = "dev"

	// Commit is the git commit hash (set via ldflags)
	Commit = ""

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = ""
)

// FullVersion returns the version with the commit appended when known, for
// example "1.2.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// BuildInfo returns the multi-line text printed by the version command.
func BuildInfo() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&sb, "  %s\n", Description)
	fmt.Fprintf(&sb, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&sb, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&sb, "\n  Built: %s", BuildTime)
	}
	return sb.String()
}
