package core

import "strings"

// Build metadata, injected with:
//
//	go build -ldflags "-X sdgateway/core.Version=$(git describe --tags --always)" .
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const modulePath = "sdgateway/core"

// GetVersionInfo returns e.g. "v1.0.0 (built 2024-01-15T10:30:00Z, commit abc1234)".
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}

// BuildLdflags returns the -X flags for the non-empty values, for use by
// release scripts.
func BuildLdflags(version, buildTime, gitCommit string) string {
	var flags []string
	add := func(name, value string) {
		if value != "" {
			flags = append(flags, "-X "+modulePath+"."+name+"="+value)
		}
	}
	add("Version", version)
	add("BuildTime", buildTime)
	add("GitCommit", gitCommit)
	return strings.Join(flags, " ")
}
