// Package version holds the build-time version stamp shared by every
// daemon binary.
package version

// Version is overridden at build time via:
//
//	-ldflags "-X github.com/galnet-eddn/bus/pkg/version.Version=1.4.0"
var Version = "dev"
