// Package config defines the settings used by the flatstore binaries and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the daemon address, the descriptor repository, the
// installer command line and the knobs of the installation pipeline.
package config
