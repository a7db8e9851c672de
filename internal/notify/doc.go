// Package notify implements the notification sink of the installation
// pipeline as an append-only broadcast hub.
//
// Any number of installations publish to the hub concurrently; any number of
// subscribers (the user interface streams) receive every notification in
// publication order. Slow subscribers lose their oldest buffered events
// instead of blocking installers.
package notify
