package version

import "runtime"

// Overridden at build time with -ldflags "-X moltguard/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

type Info struct {
	BuildVersion string `json:"build_version"`
	BuiltAt      string `json:"built_at"`
	GoVersion    string `json:"go_version"`
}

func Get() Info {
	return Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
		GoVersion:    runtime.Version(),
	}
}
