// Package version carries build metadata and semantic version comparisons.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the released engine version, overridden at build time:
//
//	go build -ldflags "-X github.com/hrygo/caresense/internal/version.Version=0.3.0"
var Version = "0.3.0"

// DevVersion is reported in dev and demo modes.
var DevVersion = Version + "-dev"

// Build metadata, set via -ldflags -X.
var (
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// Info is the version payload served by the health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Branch    string `json:"branch,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// GetCurrentVersion returns the version reported for the given profile mode.
func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

// Current returns build info for the given profile mode.
func Current(mode string) Info {
	return Info{
		Version:   GetCurrentVersion(mode),
		Commit:    known(shortCommit()),
		Branch:    known(GitBranch),
		BuildTime: known(BuildTime),
	}
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > -1
}

// IsVersionGreaterThan returns true if version is greater than target.
func IsVersionGreaterThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > 0
}

// String returns the version string with optional commit hash.
func String() string {
	if c := known(shortCommit()); c != "" {
		return fmt.Sprintf("%s-%s", Version, c)
	}
	return Version
}

// StringFull returns the complete version information including build metadata.
func StringFull() string {
	info := Current("prod")
	parts := []string{"Version=" + info.Version}
	if info.Commit != "" {
		parts = append(parts, "Commit="+info.Commit)
	}
	if info.Branch != "" {
		parts = append(parts, "Branch="+info.Branch)
	}
	if info.BuildTime != "" {
		parts = append(parts, "BuildTime="+info.BuildTime)
	}
	return strings.Join(parts, " ")
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func shortCommit() string {
	if len(GitCommit) > 8 {
		return GitCommit[:8]
	}
	return GitCommit
}

func known(v string) string {
	if v == "unknown" {
		return ""
	}
	return v
}
