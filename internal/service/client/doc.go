// Package client implements the flatstore command-line flows.
//
// Each flow connects to the flatstore server, checks that both sides share
// the major version and prints the notifications of its own session while
// the server runs the command.
package client
