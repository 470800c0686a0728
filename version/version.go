// Package version carries build metadata, set with -ldflags -X at build time.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "0.1.0"
	GitHash = "dev"
	BuildTS = "unknown"
	Model   = "bitaxe"
	Agent   = "asic_miner/" + Version
)

type VersionConfig struct {
	Version string `json:"Version"`
	GitHash string `json:"GitHash"`
	BuildTS string `json:"BuildTS"`
	Model   string `json:"Model"`
	Agent   string `json:"Agent"`
	Go      string `json:"Go"`
}

func GetVersionConfig() VersionConfig {
	return VersionConfig{
		Version: Version,
		GitHash: GitHash,
		BuildTS: BuildTS,
		Model:   Model,
		Agent:   Agent,
		Go:      runtime.Version(),
	}
}

func (v VersionConfig) String() string {
	return fmt.Sprintf("%s (%s) built %s with %s", v.Version, v.GitHash, v.BuildTS, v.Go)
}
