// Package version holds the build version of snoozer.
package version

// Version is overridden at build time via -ldflags "-X snoozer/pkg/version.Version=...".
var Version = "v0.1.0-dev"
