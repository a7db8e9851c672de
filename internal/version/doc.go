// Package version exposes build metadata for the flatstore binaries.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags and default to sensible values for local builds.
// CheckCompatible compares client and server versions with semver rules.
package version
