// Package version reports the build of the wpbuilder binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time with -ldflags "-X github.com/conneroisu/wpbuilder/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildTime is RFC3339.
	BuildTime = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty"`
}

// Get returns the build information, falling back to the module build
// settings when no ldflags were given.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		info.BuildTime = t
	}

	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && build.Main.Version != "" && build.Main.Version != "(devel)" {
		info.Version = build.Main.Version
	}
	for _, s := range build.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" {
				info.GitCommit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// Short renders "<version> (<commit>)".
func (i Info) Short() string {
	if len(i.GitCommit) < 7 || i.GitCommit == "unknown" {
		return i.Version
	}
	return fmt.Sprintf("%s (%s)", i.Version, i.GitCommit[:7])
}

// Detailed renders one field per line.
func (i Info) Detailed() string {
	lines := []string{"Version: " + i.Version}
	if i.GitCommit != "unknown" {
		commit := i.GitCommit
		if i.Dirty {
			commit += " (dirty)"
		}
		lines = append(lines, "Commit: "+commit)
	}
	if !i.BuildTime.IsZero() {
		lines = append(lines, "Built: "+i.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+i.GoVersion, "Platform: "+i.Platform)
	return strings.Join(lines, "\n")
}
