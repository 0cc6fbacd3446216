// Package version carries build metadata. Release builds stamp it with
//
//	-ldflags "-X github.com/soyeahso/closer/internal/version.Version=v0.4.0
//	  -X github.com/soyeahso/closer/internal/version.Commit=$(git rev-parse HEAD)
//	  -X github.com/soyeahso/closer/internal/version.Date=$(date -u +%F)"
//
// Plain `go build` and `go install` fall back to the VCS stamp the toolchain
// embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build is the resolved metadata of the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get merges the ldflags values with the embedded build info.
func Get() Build {
	b := Build{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		b.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

// String renders b on one line.
func (b Build) String() string {
	commit := short(b.Commit)
	if b.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("closer %s (commit: %s, built: %s, %s, %s)",
		b.Version, commit, b.Date, b.GoVersion, b.Platform)
}

// Info is Get().String().
func Info() string {
	return Get().String()
}

// UserAgent is sent on outbound HTTP and IRC version replies.
func UserAgent() string {
	return "closer/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
