// Package common holds helpers shared by the flatstore client commands.
//
// It provides a gRPC client wrapper with timeouts that speaks the installer
// service in domain types, and detects the current system actor
// (hostname/username) sent along with every command.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
