// Package version reports build information for wsvideo.
//
// Values are injected with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/wsvideo/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/wsvideo/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/wsvideo/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "wsvideo"

// mediaModules are the dependencies that decide which streams can be played.
var mediaModules = map[string]string{
	"github.com/bluenviron/mediacommon/v2": "mediacommon",
	"github.com/abema/go-mp4":              "go-mp4",
	"github.com/gorilla/websocket":         "websocket",
}

// Info is the build of the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
	// Media maps the short name of each media dependency to its version.
	Media map[string]string `json:"media,omitempty" yaml:"media,omitempty"`
}

// GetInfo collects the build variables and the versions of the media
// dependencies compiled in.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Media = mediaVersions(bi.Deps)
	}
	return info
}

func mediaVersions(deps []*debug.Module) map[string]string {
	out := make(map[string]string)
	for _, dep := range deps {
		name, ok := mediaModules[dep.Path]
		if !ok {
			continue
		}
		v := dep.Version
		if dep.Replace != nil {
			v = dep.Replace.Path + "@" + dep.Replace.Version
		}
		out[name] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func shortCommit() (string, bool) {
	if Commit == "unknown" || len(Commit) < 8 {
		return "", false
	}
	return Commit[:8], true
}

// String is the multi-part version line printed by `wsvideo version`.
func String() string {
	info := GetInfo()
	if c, ok := shortCommit(); ok {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short is used for --version.
func Short() string {
	if c, ok := shortCommit(); ok {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, c)
	}
	return ApplicationName + " " + Version
}

// UserAgent is sent on every WebSocket handshake. Snapshot builds carry
// the short commit so servers can tell them apart.
func UserAgent() string {
	ua := ApplicationName + "/" + Version
	if c, ok := shortCommit(); ok && IsSnapshot() {
		ua += "+" + c
	}
	return ua
}

// IsSnapshot reports whether this is a development or prerelease build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}
