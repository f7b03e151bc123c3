// Package version reports which anythingd build is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Stamped by the release build:
//
//	-ldflags "-X github.com/Aman-CERP/anythingd/pkg/version.Version=v1.2.0
//	          -X github.com/Aman-CERP/anythingd/pkg/version.Commit=abc123
//	          -X github.com/Aman-CERP/anythingd/pkg/version.Date=2026-01-01T00:00:00Z"
var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// Commit is the source revision.
	Commit = "unknown"
	// Date is when the binary was built, RFC3339.
	Date = "unknown"
)

// Info is the build description printed by `anythingd version --json`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo describes this build. An unstamped binary falls back to the
// module version and VCS revision the Go toolchain recorded, if any.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.Commit == "unknown":
			info.Commit = s.Value
		case s.Key == "vcs.time" && info.Date == "unknown":
			info.Date = s.Value
		}
	}
	return info
}

// String is the one-line form, e.g.
// "anythingd v1.2.0 (abc123, built 2026-01-01T00:00:00Z, go1.25.5 linux/amd64)".
func String() string {
	i := GetInfo()
	return fmt.Sprintf("anythingd %s (%s, built %s, %s %s)",
		i.Version, i.Commit, i.Date, i.GoVersion, i.Platform)
}

// Short returns the version alone.
func Short() string {
	return GetInfo().Version
}
