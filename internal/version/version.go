// Package version reports the autoci release and the commit it was built from.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the release version, with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Full returns the release version followed by the short VCS revision
// when the binary was built from a git checkout.
func Full() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Get()
	}
	return withRevision(Get(), info.Settings)
}

func withRevision(v string, settings []debug.BuildSetting) string {
	var rev string
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return v
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return v + " (" + rev + ")"
}
