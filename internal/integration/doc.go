// Package integration runs the daemon and the client flows together
// against a fake installer and descriptor repository.
package integration
