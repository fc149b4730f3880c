// SPDX-License-Identifier: MIT
//
// Package build exposes the build metadata linked into the binary with
// -ldflags, for example:
//
//	go build -ldflags "-X spectro/pkg/build.buildName=spectro \
//	    -X spectro/pkg/build.buildVersion=v0.3.0 ..."
//
// Development builds carry "unknown" for every field that was not set.
package build

import "fmt"

// DefaultName is used until Initialize succeeds.
const DefaultName = "spectro"

// Description is the one-line summary shown in CLI help.
const Description = "Audio spectrogram capture, batch rendering and live monitoring"

// Info is the build metadata.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// Package-level variables populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildInfo    = &Info{
		Name:    DefaultName,
		Time:    "unknown",
		Commit:  "unknown",
		Version: "unknown",
	}
)

// Initialize copies the ldflags values into the build information. It
// returns an error naming the first missing flag and leaves the defaults
// in place.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildInfo.Name = buildName
	buildInfo.Time = buildTime
	buildInfo.Commit = buildCommit
	buildInfo.Version = buildVersion
	return nil
}

// Get returns the current build information.
func Get() *Info {
	return buildInfo
}

// String formats the information for a version line.
func (i *Info) String() string {
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, commit, i.Time)
}
