package main

import (
	"runtime/debug"

	"github.com/marcus/rem/cmd"
)

// Version is stamped by releases: go build -ldflags "-X main.Version=v1.2.3".
var Version = "dev"

func main() {
	info, _ := debug.ReadBuildInfo()
	cmd.SetVersion(resolveVersion(Version, info))
	cmd.Execute()
}

// resolveVersion prefers a stamped version, then the module version from
// `go install module@vX`, then devel+<revision>[+dirty] from VCS settings.
func resolveVersion(stamped string, info *debug.BuildInfo) string {
	if stamped != "" && stamped != "dev" {
		return stamped
	}
	if info == nil {
		return stamped
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return stamped
	}
	v := "devel+" + rev[:min(len(rev), 12)]
	if dirty {
		v += "+dirty"
	}
	return v
}
