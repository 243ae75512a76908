// Package version reports how the blockforge binary was built. Release
// builds set the variables below with -ldflags; other builds fall back to
// the module and VCS data embedded by the Go toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	devVersion = "dev"
	unknown    = "unknown"
)

// Set at build time, e.g.
//
//	-ldflags "-X github.com/conneroisu/blockforge/internal/version.Version=v1.4.0"
var (
	Version   = devVersion
	GitCommit = unknown
	// BuildTime is RFC3339.
	BuildTime = unknown
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time" yaml:"build_time"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Modified  bool      `json:"modified" yaml:"modified"`
}

// vcsInfo is the subset of debug build settings we use.
type vcsInfo struct {
	moduleVersion string
	revision      string
	modified      bool
	time          time.Time
}

func readVCS() vcsInfo {
	var v vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	if info.Main.Version != "(devel)" {
		v.moduleVersion = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.revision = setting.Value
		case "vcs.modified":
			v.modified = setting.Value == "true"
		case "vcs.time":
			v.time = parseTime(setting.Value)
		}
	}
	return v
}

// GetBuildInfo collects everything known about the binary.
func GetBuildInfo() *BuildInfo {
	vcs := readVCS()
	built := parseTime(BuildTime)
	if built.IsZero() {
		built = vcs.time
	}
	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: built,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Modified:  vcs.modified,
	}
}

// GetVersion returns the ldflags version, then the module version, then
// dev-<short revision>, then "dev".
func GetVersion() string {
	if Version != "" && Version != devVersion {
		return Version
	}
	vcs := readVCS()
	if vcs.moduleVersion != "" {
		return vcs.moduleVersion
	}
	if len(vcs.revision) >= 7 {
		return devVersion + "-" + vcs.revision[:7]
	}
	return devVersion
}

// GetGitCommit returns the full commit hash or "unknown".
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != unknown {
		return GitCommit
	}
	if rev := readVCS().revision; rev != "" {
		return rev
	}
	return unknown
}

// GetShortVersion is the one-line form used by the CLI and /health.
func GetShortVersion() string {
	v := GetVersion()
	commit := GetGitCommit()
	if commit == unknown || len(commit) < 7 || strings.HasPrefix(v, devVersion) {
		return v
	}
	return fmt.Sprintf("%s (%s)", v, commit[:7])
}

// GetDetailedVersion renders the build info one field per line.
func GetDetailedVersion() string {
	info := GetBuildInfo()

	lines := []string{"Version: " + info.Version}
	if info.GitCommit != unknown {
		commit := info.GitCommit
		if info.Modified {
			commit += " (modified)"
		}
		lines = append(lines, "Commit: "+commit)
	}
	if !info.BuildTime.IsZero() {
		lines = append(lines, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+info.GoVersion, "Platform: "+info.Platform)
	return strings.Join(lines, "\n")
}

// IsRelease reports whether the version is a semantic version without a
// prerelease suffix.
func IsRelease() bool {
	v := canonical(GetVersion())
	return v != "" && semver.Prerelease(v) == ""
}

// UserAgent identifies blockforge in outgoing requests.
func UserAgent() string {
	return "blockforge/" + strings.TrimPrefix(GetVersion(), "v")
}

// canonical returns v in semver's "vX.Y.Z" form, or "" if v is not a
// semantic version.
func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

func parseTime(s string) time.Time {
	if s == "" || s == unknown {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
