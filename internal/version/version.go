package version

import (
	"os/exec"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set through -ldflags "-X github.com/fmueller/voxscribe/internal/version.Version=...".
var (
	Version = "0.1.0"
	Commit  = "unknown"
	Date    = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go"`
}

// Get reports the build metadata. Development builds get a git describe suffix and fall
// back to the VCS revision recorded by the Go toolchain.
func Get() Info {
	info := Info{
		Version:   withGitSuffix(Version, runGit),
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "unknown" {
		if revision := vcsRevision(); revision != "" {
			info.Commit = revision
		}
	}
	return info
}

// Resolve returns only the version string.
func Resolve() string {
	return Get().Version
}

func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Version)
	if i.Commit != "" && i.Commit != "unknown" {
		b.WriteString(" (" + shortCommit(i.Commit))
		if i.Date != "" && i.Date != "unknown" {
			b.WriteString(", " + i.Date)
		}
		b.WriteString(")")
	}
	return b.String()
}

type gitRunner func(args ...string) (string, error)

func withGitSuffix(base string, git gitRunner) string {
	if base == "" {
		base = "0.0.0"
	}

	// Not a checkout, or HEAD sits exactly on a release tag.
	if _, err := git("rev-parse", "--git-dir"); err != nil {
		return base
	}
	if _, err := git("describe", "--tags", "--exact-match"); err == nil {
		return base
	}

	desc, err := git("describe", "--tags", "--dirty", "--always")
	if err != nil || desc == "" {
		return base
	}
	return base + "-" + strings.TrimPrefix(desc, "v"+base+"-")
}

func runGit(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func vcsRevision() string {
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
