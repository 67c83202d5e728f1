// Package version exposes build metadata injected through -ldflags.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	// Version is the release version, set at build time.
	Version = "dev"
	// GitCommit is the commit SHA the binary was built from.
	GitCommit = "unknown"
)

// Info is the version payload printed by `keel version`.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
}

// Get returns the current build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("keel %s (commit %s, %s)", i.Version, i.GitCommit, i.GoVersion)
}

// JSON renders the info as indented JSON.
func (i Info) JSON() (string, error) {
	b, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
