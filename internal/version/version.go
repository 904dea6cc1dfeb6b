// Package version reports the cvdnet build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/spin-stack/cvdnet/internal/version.Version=v1.0.0".
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// commit returns GitCommit, falling back to the VCS stamp the go command
// embeds in binaries built from a checkout.
func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if bi, ok := readBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	return "unknown"
}

// Info returns the version line printed by cvdnet --version.
func Info() string {
	date := BuildDate
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s, go: %s)", Version, commit(), date, runtime.Version())
}
