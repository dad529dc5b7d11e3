package version

import "runtime/debug"

// Version and Commit are overridden at build time with
// -ldflags "-X github.com/bnema/kaidan/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
)

// String formats the version line printed by `kaidan version`.
func String() string {
	line := "kaidan " + Version
	if rev := revision(); rev != "" {
		line += " (" + rev + ")"
	}
	return line
}

func revision() string {
	if Commit != "" {
		return shorten(Commit)
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return shorten(setting.Value)
		}
	}
	return ""
}

func shorten(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
