// Package version reports build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time: -ldflags "-X github.com/memohai/wechatbot/internal/version.Version=v1.2.3".
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// GetInfo returns the build metadata.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", i.Version, i.Commit, i.BuildTime, i.GoVersion)
}
